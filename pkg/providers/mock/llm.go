package mock

import (
	"context"
	"sync"

	"github.com/auralis-labs/duplex/pkg/llm"
)

type LLMConfig struct {
	// Replies are returned in order; once exhausted, ResponseText is used.
	Replies      []string
	ResponseText string
	// Err, when set, fails every Generate call.
	Err error
}

// LLM returns scripted replies.
type LLM struct {
	cfg LLMConfig

	mu    sync.Mutex
	calls int
}

func NewLLM(cfg LLMConfig) *LLM {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLM{cfg: cfg}
}

func (l *LLM) Name() string { return "mock" }

func (l *LLM) Generate(ctx context.Context, utterance string, history []llm.Message) (string, error) {
	if l.cfg.Err != nil {
		return "", l.cfg.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls < len(l.cfg.Replies) {
		reply := l.cfg.Replies[l.calls]
		l.calls++
		return reply, nil
	}
	l.calls++
	return l.cfg.ResponseText, nil
}

// Calls reports how many times Generate ran.
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var _ llm.ReplyGenerator = (*LLM)(nil)
