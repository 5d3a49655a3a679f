package configutil

import (
	"strings"
	"testing"
)

func TestDecodeSettingsMatchesKeysLoosely(t *testing.T) {
	var out struct {
		APIKey     string `mapstructure:"api_key"`
		SampleRate int    `mapstructure:"sample_rate"`
	}
	in := map[string]any{"API-Key": "secret", "sampleRate": "16000"}
	if err := DecodeSettings(in, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" || out.SampleRate != 16000 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}

	if err := ValidateSettings(map[string]any{"api_key": "k", "model": "m"}, schema); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	err := ValidateSettings(map[string]any{"model": "m"}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: api_key") {
		t.Fatalf("expected missing api_key, got %v", err)
	}

	err = ValidateSettings(map[string]any{"api_key": "  "}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: api_key") {
		t.Fatalf("expected blank api_key reported missing, got %v", err)
	}

	err = ValidateSettings(map[string]any{"api_key": "k", "voice": "v"}, schema)
	if err == nil || !strings.Contains(err.Error(), "unknown: voice") {
		t.Fatalf("expected unknown key rejected, got %v", err)
	}

	schema.AllowUnknown = true
	if err := ValidateSettings(map[string]any{"api_key": "k", "voice": "v"}, schema); err != nil {
		t.Fatalf("AllowUnknown should accept extra keys: %v", err)
	}
}

func TestIntValueFallsBackWhenUnset(t *testing.T) {
	if got := IntValue(nil, 250); got != 250 {
		t.Fatalf("expected fallback 250, got %d", got)
	}
	v := 40
	if got := IntValue(&v, 250); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}
