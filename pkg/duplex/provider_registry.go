package duplex

import (
	"fmt"
	"strings"

	"github.com/auralis-labs/duplex/pkg/adapters/stt"
	"github.com/auralis-labs/duplex/pkg/adapters/tts"
	"github.com/auralis-labs/duplex/pkg/llm"
)

type STTFactory func(cfg Config, sessionID string) (stt.SpeechToTextProvider, error)
type TTSFactory func(cfg Config, sessionID string) (tts.TextToSpeechProvider, error)
type LLMFactory func(cfg Config) (llm.ReplyGenerator, error)

// ProviderRegistry maps vendor names from configuration to provider
// constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalize(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config, sessionID string) (stt.SpeechToTextProvider, error) {
	fn := r.stt[normalize(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, sessionID)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config, sessionID string) (tts.TextToSpeechProvider, error) {
	fn := r.tts[normalize(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg, sessionID)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.ReplyGenerator, error) {
	fn := r.llm[normalize(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
