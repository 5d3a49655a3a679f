package duplex

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Playback.QueueCapacity != 32 {
		t.Fatalf("expected default queue capacity 32, got %d", cfg.Playback.QueueCapacity)
	}
	if cfg.Conversation.MaxTurns != 50 {
		t.Fatalf("expected default max turns 50, got %d", cfg.Conversation.MaxTurns)
	}
	if cfg.Conversation.ErrorCeiling != 3 {
		t.Fatalf("expected default error ceiling 3, got %d", cfg.Conversation.ErrorCeiling)
	}
	// The balanced preset seeds the barge-in knobs.
	if cfg.BargeIn.PollIntervalMS != 20 || cfg.BargeIn.GraceWindowMS != 180 {
		t.Fatalf("expected balanced preset, got %+v", cfg.BargeIn)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
}

func TestLoadConfigCaptureModePreset(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
capture:
  mode: accurate
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BargeIn.ConsecutivePolls != 3 || cfg.BargeIn.MinLength != 3 {
		t.Fatalf("expected accurate preset, got %+v", cfg.BargeIn)
	}
}

func TestLoadConfigExplicitBargeInWinsOverPreset(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
capture:
  mode: fast
barge_in:
  grace_window_ms: 300
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BargeIn.GraceWindowMS != 300 {
		t.Fatalf("explicit grace window lost: %+v", cfg.BargeIn)
	}
	if cfg.BargeIn.PollIntervalMS != 15 {
		t.Fatalf("expected fast preset poll interval, got %+v", cfg.BargeIn)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-12345")
	cfg, err := LoadConfig(writeConfig(t, `
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: ${TEST_API_KEY}
  tts:
    provider: mock
  llm:
    provider: mock
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "sk-12345" {
		t.Fatalf("expected env expansion, got %v", got)
	}
}

func TestLoadConfigRejectsMissingVendors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
vendors:
  stt:
    provider: mock
`))
	if err == nil {
		t.Fatalf("expected validation error for missing vendors")
	}
}

func TestLoadConfigRejectsUnknownMode(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
capture:
  mode: turbo
`))
	if err == nil {
		t.Fatalf("expected validation error for unknown capture mode")
	}
}
