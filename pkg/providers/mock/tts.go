package mock

import (
	"context"
	"time"

	"github.com/auralis-labs/duplex/pkg/adapters/tts"
	"github.com/auralis-labs/duplex/pkg/frames"
)

type TTSConfig struct {
	SessionID  string
	SampleRate int
	Channels   int
	// FramesPerUtterance is how many silent frames each Synthesize emits.
	FramesPerUtterance int
	// FrameGap spaces the frames out, simulating streaming synthesis.
	FrameGap time.Duration
	// FailTag, when set, ends every stream with a synthesis error instead
	// of end-of-stream.
	FailTag string
}

// TTS emits deterministic silent audio for each utterance.
type TTS struct {
	cfg TTSConfig
	seq *frames.SeqGen
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerUtterance == 0 {
		cfg.FramesPerUtterance = 5
	}
	return &TTS{cfg: cfg, seq: frames.NewSeqGen()}
}

func (t *TTS) Name() string { return "mock" }

func (t *TTS) Synthesize(ctx context.Context, text string) (<-chan frames.Frame, error) {
	out := make(chan frames.Frame, 16)
	go func() {
		defer close(out)
		pcm := make([]byte, 320)
		for i := 0; i < t.cfg.FramesPerUtterance; i++ {
			f := frames.NewAudioFrame(t.cfg.SessionID, t.seq.Next(t.cfg.SessionID), pcm,
				t.cfg.SampleRate, t.cfg.Channels, map[string]string{frames.MetaSource: "tts"})
			select {
			case <-ctx.Done():
				return
			case out <- f:
			}
			if t.cfg.FrameGap > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.cfg.FrameGap):
				}
			}
		}
		var end frames.ControlFrame
		if t.cfg.FailTag != "" {
			end = frames.NewControlFrame(t.cfg.SessionID, t.seq.Next(t.cfg.SessionID),
				frames.ControlCancel, map[string]string{frames.MetaErrorTag: t.cfg.FailTag})
		} else {
			end = frames.NewControlFrame(t.cfg.SessionID, t.seq.Next(t.cfg.SessionID),
				frames.ControlEndOfStream, nil)
		}
		select {
		case <-ctx.Done():
		case out <- end:
		}
	}()
	return out, nil
}

func (t *TTS) Close() error { return nil }

var _ tts.TextToSpeechProvider = (*TTS)(nil)
