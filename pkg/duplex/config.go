package duplex

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	BargeIn       BargeInConfig       `mapstructure:"barge_in"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type CaptureConfig struct {
	// Mode is a responsiveness preset: fast, balanced, or accurate. It
	// seeds the barge-in knobs; explicit barge_in values win.
	Mode             string `mapstructure:"mode"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Language         string `mapstructure:"language"`
	Model            string `mapstructure:"model"`
	FinalizedBacklog int    `mapstructure:"finalized_backlog"`
}

type PlaybackConfig struct {
	QueueCapacity    int    `mapstructure:"queue_capacity"`
	EnqueueTimeoutMS int    `mapstructure:"enqueue_timeout_ms"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Channels         int    `mapstructure:"channels"`
	Voice            string `mapstructure:"voice"`
}

type BargeInConfig struct {
	PollIntervalMS   int `mapstructure:"poll_interval_ms"`
	GraceWindowMS    int `mapstructure:"grace_window_ms"`
	ConsecutivePolls int `mapstructure:"consecutive_polls"`
	MinLength        int `mapstructure:"min_length"`
}

type ConversationConfig struct {
	MaxTurns          int      `mapstructure:"max_turns"`
	ErrorCeiling      int      `mapstructure:"error_ceiling"`
	HistoryLimit      int      `mapstructure:"history_limit"`
	ExitPhrases       []string `mapstructure:"exit_phrases"`
	SpeechTimeoutMS   int      `mapstructure:"speech_timeout_ms"`
	GenerateTimeoutMS int      `mapstructure:"generate_timeout_ms"`
	PlaybackTimeoutMS int      `mapstructure:"playback_timeout_ms"`
	BasePrompt        string   `mapstructure:"base_prompt"`
	WelcomeText       string   `mapstructure:"welcome_text"`
	FarewellText      string   `mapstructure:"farewell_text"`
	ErrorExitText     string   `mapstructure:"error_exit_text"`
}

type ObservabilityConfig struct {
	ArtifactsDir   string  `mapstructure:"artifacts_dir"`
	RetentionDays  int     `mapstructure:"retention_days"`
	PollTickSample float64 `mapstructure:"poll_tick_sample"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// Capture mode presets. The original tuning never settled on one set of
// values, so all three remain selectable.
var captureModes = map[string]BargeInConfig{
	"fast":     {PollIntervalMS: 15, GraceWindowMS: 150, ConsecutivePolls: 2, MinLength: 2},
	"balanced": {PollIntervalMS: 20, GraceWindowMS: 180, ConsecutivePolls: 2, MinLength: 2},
	"accurate": {PollIntervalMS: 25, GraceWindowMS: 200, ConsecutivePolls: 3, MinLength: 3},
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("capture.mode", "balanced")
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.language", "en")
	v.SetDefault("capture.finalized_backlog", 8)
	v.SetDefault("playback.queue_capacity", 32)
	v.SetDefault("playback.enqueue_timeout_ms", 50)
	v.SetDefault("playback.sample_rate", 16000)
	v.SetDefault("playback.channels", 1)
	v.SetDefault("barge_in.poll_interval_ms", 0)
	v.SetDefault("barge_in.grace_window_ms", 0)
	v.SetDefault("barge_in.consecutive_polls", 0)
	v.SetDefault("barge_in.min_length", 0)
	v.SetDefault("conversation.max_turns", 50)
	v.SetDefault("conversation.error_ceiling", 3)
	v.SetDefault("conversation.history_limit", 12)
	v.SetDefault("conversation.exit_phrases", []string{"quit", "exit", "goodbye", "bye"})
	v.SetDefault("conversation.speech_timeout_ms", 30000)
	v.SetDefault("conversation.generate_timeout_ms", 15000)
	v.SetDefault("conversation.playback_timeout_ms", 30000)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.poll_tick_sample", 0.02)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.applyCaptureMode()
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyCaptureMode fills barge-in knobs from the capture mode preset
// where the config file left them unset.
func (c *Config) applyCaptureMode() {
	preset, ok := captureModes[strings.ToLower(strings.TrimSpace(c.Capture.Mode))]
	if !ok {
		preset = captureModes["balanced"]
	}
	if c.BargeIn.PollIntervalMS <= 0 {
		c.BargeIn.PollIntervalMS = preset.PollIntervalMS
	}
	if c.BargeIn.GraceWindowMS <= 0 {
		c.BargeIn.GraceWindowMS = preset.GraceWindowMS
	}
	if c.BargeIn.ConsecutivePolls <= 0 {
		c.BargeIn.ConsecutivePolls = preset.ConsecutivePolls
	}
	if c.BargeIn.MinLength <= 0 {
		c.BargeIn.MinLength = preset.MinLength
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if mode := strings.ToLower(strings.TrimSpace(c.Capture.Mode)); mode != "" {
		if _, ok := captureModes[mode]; !ok {
			return fmt.Errorf("capture.mode must be fast, balanced, or accurate: %q", mode)
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
