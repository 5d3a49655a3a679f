package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateInterrupted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStreaming:
		return "STREAMING"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of awaiting a session.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeInterrupted
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeInterrupted:
		return "INTERRUPTED"
	case OutcomeTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Session is one playback of one synthesized utterance. Exactly one
// session is current at a time; superseding a session cancels the prior
// one before any new audio is produced.
type Session struct {
	id        string
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	errorTag string
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateStreaming,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed once the session reaches a terminal state and the sink
// has been flushed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorTag reports the synthesis error that terminated the session, if any.
func (s *Session) ErrorTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorTag
}

// finish moves the session to a terminal state. The first terminal state
// wins; later calls are no-ops.
func (s *Session) finish(state State, errorTag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return false
	}
	s.state = state
	if errorTag != "" {
		s.errorTag = errorTag
	}
	return true
}

func (s *Session) setErrorTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorTag == "" {
		s.errorTag = tag
	}
}

func (s *Session) cancelled() bool {
	return s.ctx.Err() != nil
}
