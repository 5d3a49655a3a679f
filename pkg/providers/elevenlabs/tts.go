package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auralis-labs/duplex/pkg/adapters/tts"
	"github.com/auralis-labs/duplex/pkg/frames"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	SessionID    string
}

// Provider synthesizes speech over ElevenLabs' websocket streaming API.
// Each Synthesize call opens its own connection so cancelling one
// utterance never disturbs the next.
type Provider struct {
	cfg     Config
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	seq     *frames.SeqGen
	log     *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func New(cfg Config) *Provider {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Provider{
		cfg:     cfg,
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		seq:     frames.NewSeqGen(),
		log:     logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (p *Provider) Name() string { return "elevenlabs" }

func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan frames.Frame, error) {
	if p.cfg.APIKey == "" || p.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	if !p.breaker.Allow() {
		return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: "circuit open"}
	}

	var conn *websocket.Conn
	err := p.retry.DoWithContext(ctx, func() error {
		var dialErr error
		conn, dialErr = p.dial()
		return dialErr
	})
	if err != nil {
		p.breaker.OnError(err)
		return nil, err
	}
	p.breaker.OnSuccess()
	p.track(conn)

	if err := p.sendScript(conn, text); err != nil {
		p.untrack(conn)
		_ = conn.Close()
		return nil, err
	}

	out := make(chan frames.Frame, 64)
	go p.readLoop(ctx, conn, out)
	return out, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for conn := range p.conns {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	p.conns = nil
	return nil
}

func (p *Provider) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(p.buildURL(), http.Header{
		"xi-api-key": []string{p.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			p.log.Error("elevenlabs_rate_limited",
				slog.String("session_id", p.cfg.SessionID),
				slog.String("status", resp.Status))
			return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return nil, err
	}
	return conn, nil
}

// sendScript writes the whole utterance followed by the end-of-input
// message, so the server generates and closes the stream on its own.
func (p *Provider) sendScript(conn *websocket.Conn, text string) error {
	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := writeJSON(conn, init); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text != "" {
		if err := writeJSON(conn, map[string]any{"text": text + " ", "try_trigger_generation": true}); err != nil {
			return err
		}
	}
	return writeJSON(conn, map[string]any{"text": ""})
}

func (p *Provider) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + p.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if p.cfg.ModelID != "" {
		q.Set("model_id", p.cfg.ModelID)
	}
	if p.cfg.OutputFormat != "" {
		q.Set("output_format", p.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (p *Provider) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- frames.Frame) {
	defer close(out)
	defer p.untrack(conn)
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				p.emitControl(ctx, out, frames.ControlEndOfStream, nil)
				return
			}
			p.log.Error("elevenlabs_read_error",
				slog.String("session_id", p.cfg.SessionID),
				slog.String("error", err.Error()))
			p.emitControl(ctx, out, frames.ControlCancel,
				map[string]string{frames.MetaErrorTag: "tts_stream"})
			return
		}
		if done := p.handleMessage(ctx, data, out); done {
			p.emitControl(ctx, out, frames.ControlEndOfStream, nil)
			return
		}
	}
}

// handleMessage decodes one server message. Returns true once the server
// marks the stream final.
func (p *Provider) handleMessage(ctx context.Context, data []byte, out chan<- frames.Frame) bool {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		p.log.Warn("elevenlabs_unparsed_message", slog.String("session_id", p.cfg.SessionID))
		return false
	}
	if final, ok := msg["isFinal"].(bool); ok && final {
		return true
	}
	audio, ok := msg["audio"].(string)
	if !ok || audio == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		p.log.Error("elevenlabs_audio_decode_error",
			slog.String("session_id", p.cfg.SessionID),
			slog.String("error", err.Error()))
		return false
	}
	f := frames.NewAudioFrame(p.cfg.SessionID, p.seq.Next(p.cfg.SessionID), raw, p.cfg.SampleRate, 1,
		map[string]string{frames.MetaSource: "elevenlabs"})
	select {
	case out <- f:
	case <-ctx.Done():
	}
	return false
}

func (p *Provider) emitControl(ctx context.Context, out chan<- frames.Frame, code frames.ControlCode, meta map[string]string) {
	f := frames.NewControlFrame(p.cfg.SessionID, p.seq.Next(p.cfg.SessionID), code, meta)
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

func (p *Provider) track(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conns == nil {
		p.conns = make(map[*websocket.Conn]struct{})
	}
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Provider) untrack(conn *websocket.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

func writeJSON(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

var _ tts.TextToSpeechProvider = (*Provider)(nil)
