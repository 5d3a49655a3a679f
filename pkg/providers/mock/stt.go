package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auralis-labs/duplex/pkg/adapters/stt"
)

// ScriptStep is one timed recognition event.
type ScriptStep struct {
	Delay   time.Duration
	Text    string
	IsFinal bool
}

type STTConfig struct {
	// Script is replayed in order once Start is called. An empty script
	// keeps the stream open until Close.
	Script []ScriptStep
}

// STT replays a scripted sequence of transcript events.
type STT struct {
	cfg    STTConfig
	out    chan stt.TranscriptEvent
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewSTT(cfg STTConfig) *STT {
	return &STT{cfg: cfg, out: make(chan stt.TranscriptEvent, 64)}
}

func (s *STT) Name() string { return "mock" }

func (s *STT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	// The goroutine owns the channel: it closes out once the stream ends.
	go func() {
		defer close(s.out)
		for _, step := range s.cfg.Script {
			if step.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(step.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case s.out <- stt.TranscriptEvent{Text: step.Text, IsFinal: step.IsFinal}:
			}
		}
		<-ctx.Done()
	}()
	return nil
}

func (s *STT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.started {
		s.cancel()
	} else {
		close(s.out)
	}
	return nil
}

func (s *STT) Results() <-chan stt.TranscriptEvent { return s.out }

var _ stt.SpeechToTextProvider = (*STT)(nil)
