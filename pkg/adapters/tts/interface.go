package tts

import (
	"context"

	"github.com/auralis-labs/duplex/pkg/frames"
)

// TextToSpeechProvider defines the contract for any TTS vendor
// implementation. Synthesis is lazy and streaming: frames arrive as the
// provider produces them, and cancelling ctx must stop the stream with
// bounded latency.
type TextToSpeechProvider interface {
	// Name returns provider name for logging/metrics.
	Name() string
	// Synthesize starts synthesis of text and returns the frame stream.
	// The stream carries AudioFrames followed by a ControlEndOfStream
	// frame; a provider failure mid-stream is delivered as a
	// ControlCancel frame whose meta carries MetaErrorTag. The channel
	// is closed once the stream ends for any reason.
	Synthesize(ctx context.Context, text string) (<-chan frames.Frame, error)
	// Close releases the provider connection.
	Close() error
}

// Config contains vendor-agnostic synthesis configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
	Voice      string
}
