package stt

import (
	"context"
)

// TranscriptEvent is one recognition update from the provider. Partial
// events may be superseded by later partials; a final event closes a
// speech segment.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// SpeechToTextProvider defines the contract for any STT vendor
// implementation. Providers must keep recognizing while audio is being
// played back; the core never pauses capture.
type SpeechToTextProvider interface {
	// Name returns provider name for logging/metrics.
	Name() string
	// Start initializes the capture connection.
	Start(ctx context.Context) error
	// Close shuts down the capture connection.
	Close() error
	// Results returns a channel of recognition updates. The channel is
	// closed when the provider stops, whether by Close or by failure.
	Results() <-chan TranscriptEvent
}

// Config contains vendor-agnostic capture configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	Model      string
}
