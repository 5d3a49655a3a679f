package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/auralis-labs/duplex/pkg/adapters/stt"
	"github.com/auralis-labs/duplex/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	SessionID  string
	// UtteranceEndMS enables native end-of-utterance detection.
	UtteranceEndMS int
	// Input is the raw audio source streamed to the recognizer, typically
	// a microphone device handle.
	Input io.Reader
}

// Provider streams audio from Input to Deepgram's live transcription API
// and emits partial and final transcript events.
type Provider struct {
	cfg      Config
	dgClient *client.WSCallback
	out      chan stt.TranscriptEvent
	ctx      context.Context
	cancel   context.CancelFunc
	closeOut sync.Once
	log      *slog.Logger
}

func New(cfg Config) *Provider {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Provider{
		cfg: cfg,
		out: make(chan stt.TranscriptEvent, 256),
		log: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (p *Provider) Name() string { return "deepgram" }

func (p *Provider) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.Input == nil {
		return fmt.Errorf("deepgram: no audio input configured")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          p.cfg.Model,
		Language:       p.cfg.Language,
		Encoding:       p.cfg.Encoding,
		SampleRate:     p.cfg.SampleRate,
		InterimResults: true,
		SmartFormat:    true,
	}
	if p.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", p.cfg.UtteranceEndMS)
	}

	p.log.Info("deepgram_connecting",
		slog.String("session_id", p.cfg.SessionID),
		slog.String("model", p.cfg.Model),
		slog.Int("sample_rate", p.cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(p.ctx, p.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: p})
	if err != nil {
		p.log.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", p.cfg.SessionID))
		return err
	}
	p.dgClient = dgClient

	if connected := p.dgClient.Connect(); !connected {
		return fmt.Errorf("deepgram connection failed")
	}
	p.log.Info("deepgram_connected", slog.String("session_id", p.cfg.SessionID))

	go func() {
		if err := p.dgClient.Stream(p.cfg.Input); err != nil && p.ctx.Err() == nil {
			p.log.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", p.cfg.SessionID))
		}
		p.finish()
	}()
	return nil
}

func (p *Provider) Close() error {
	p.log.Info("deepgram_closing", slog.String("session_id", p.cfg.SessionID))
	if p.cancel != nil {
		p.cancel()
	}
	if p.dgClient != nil {
		p.dgClient.Stop()
	}
	p.finish()
	return nil
}

func (p *Provider) Results() <-chan stt.TranscriptEvent { return p.out }

func (p *Provider) finish() {
	p.closeOut.Do(func() { close(p.out) })
}

func (p *Provider) emit(ev stt.TranscriptEvent) {
	select {
	case p.out <- ev:
	default:
		p.log.Warn("deepgram_results_channel_full",
			slog.String("session_id", p.cfg.SessionID))
	}
}

type callback struct {
	parent     *Provider
	metaLogged bool
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.log.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	c.parent.log.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Bool("is_final", isFinal))
	c.parent.emit(stt.TranscriptEvent{Text: transcript, IsFinal: isFinal})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.metaLogged {
		c.metaLogged = true
		c.parent.log.Info("deepgram_metadata_received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.log.Debug("speech_started_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.log.Debug("utterance_end_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.log.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.finish()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.log.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.log.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

var _ stt.SpeechToTextProvider = (*Provider)(nil)
