package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auralis-labs/duplex/pkg/frames"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/metrics"
)

// Sink is the audio output device boundary. Write blocks for roughly one
// frame duration; Flush stops playback and discards device-side buffers.
type Sink interface {
	Write(frame frames.AudioFrame) error
	Flush() error
}

// DiscardSink drops all audio. Useful for demos and tests without a device.
type DiscardSink struct{}

func (DiscardSink) Write(frames.AudioFrame) error { return nil }
func (DiscardSink) Flush() error                  { return nil }

type Config struct {
	// QueueCapacity bounds the frame queue between synthesis and the sink.
	QueueCapacity int
	// EnqueueTimeout is how long the producer blocks on a full queue
	// before dropping the frame and logging saturation.
	EnqueueTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 32
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 50 * time.Millisecond
	}
}

// Pipeline moves synthesized audio frames from a generation source to the
// output sink through a bounded queue, with cooperative cancellation.
type Pipeline struct {
	cfg  Config
	sink Sink
	obs  metrics.Observer
	log  *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewPipeline(sink Sink, cfg Config) *Pipeline {
	cfg.fillDefaults()
	return &Pipeline{
		cfg:  cfg,
		sink: sink,
		obs:  metrics.NoopObserver{},
		log:  logging.NewComponentLogger(slog.Default(), "playback"),
	}
}

func (p *Pipeline) SetObserver(obs metrics.Observer) {
	if obs != nil {
		p.obs = obs
	}
}

// Start begins playing the frame stream and returns the new session. A
// prior Streaming session is cancelled synchronously first, so at most one
// session is ever Streaming.
func (p *Pipeline) Start(ctx context.Context, source <-chan frames.Frame) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev := p.current; prev != nil && prev.State() == StateStreaming {
		p.log.Info("superseding_active_session", "session_id", prev.ID())
		p.cancelSession(prev)
	}
	session := newSession(ctx)
	p.current = session

	queue := make(chan frames.AudioFrame, p.cfg.QueueCapacity)
	go p.produce(session, source, queue)
	go p.consume(session, queue)

	p.log.Debug("playback_started", "session_id", session.ID())
	return session, nil
}

// Cancel stops a session: queued frames are discarded and the sink is
// flushed before Cancel returns. Cancelling a session that already
// completed or was already cancelled is a no-op.
func (p *Pipeline) Cancel(session *Session) {
	if session == nil {
		return
	}
	if session.State() != StateStreaming {
		return
	}
	p.cancelSession(session)
}

func (p *Pipeline) cancelSession(session *Session) {
	start := time.Now()
	session.cancel()
	<-session.done
	latency := time.Since(start)
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCancelLatencyUS,
		Time:  time.Now(),
		Value: float64(latency.Microseconds()),
		Tags:  map[string]string{"session_id": session.ID()},
	})
	p.log.Info("playback_cancelled",
		"session_id", session.ID(),
		"cancel_latency_us", latency.Microseconds())
}

// AwaitCompletion blocks until the session reaches a terminal state or the
// timeout elapses.
func (p *Pipeline) AwaitCompletion(session *Session, timeout time.Duration) Outcome {
	if session == nil {
		return OutcomeCompleted
	}
	if timeout <= 0 {
		<-session.done
		return outcomeFor(session)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-session.done:
		return outcomeFor(session)
	case <-timer.C:
		return OutcomeTimedOut
	}
}

func outcomeFor(session *Session) Outcome {
	if session.State() == StateCompleted {
		return OutcomeCompleted
	}
	return OutcomeInterrupted
}

// produce pulls frames from the synthesis source and enqueues them. It is
// the only writer of queue and closes it on end-of-stream, source error,
// or cancellation.
func (p *Pipeline) produce(session *Session, source <-chan frames.Frame, queue chan frames.AudioFrame) {
	defer close(queue)
	for {
		select {
		case <-session.ctx.Done():
			return
		case f, ok := <-source:
			if !ok {
				return
			}
			switch f.Kind() {
			case frames.KindAudio:
				p.enqueue(session, f.(frames.AudioFrame), queue)
			case frames.KindControl:
				cf := f.(frames.ControlFrame)
				switch cf.Code() {
				case frames.ControlEndOfStream:
					return
				case frames.ControlCancel:
					tag := cf.Meta()[frames.MetaErrorTag]
					if tag == "" {
						tag = "synthesis_failed"
					}
					session.setErrorTag(tag)
					p.log.Warn("synthesis_source_error",
						"session_id", session.ID(),
						"error_tag", tag)
					return
				}
			}
		}
	}
}

// enqueue applies backpressure: block up to the configured timeout, then
// drop the frame and log saturation. It must never deadlock the producer.
func (p *Pipeline) enqueue(session *Session, f frames.AudioFrame, queue chan frames.AudioFrame) {
	select {
	case queue <- f:
		return
	case <-session.ctx.Done():
		frames.ReleaseAudioFrame(f)
		return
	default:
	}
	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case queue <- f:
	case <-session.ctx.Done():
		frames.ReleaseAudioFrame(f)
	case <-timer.C:
		frames.ReleaseAudioFrame(f)
		p.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventQueueSaturation,
			Time:  time.Now(),
			Value: float64(f.Seq()),
			Tags:  map[string]string{"session_id": session.ID()},
		})
		p.log.Warn("playback_queue_saturated",
			"session_id", session.ID(),
			"seq", f.Seq())
	}
}

// consume drains the queue into the sink. It owns the terminal state
// transition and always flushes the sink on cancellation before signalling
// done, which is what bounds the silence latency after Cancel.
func (p *Pipeline) consume(session *Session, queue chan frames.AudioFrame) {
	defer close(session.done)
	wrote := false
	for {
		select {
		case <-session.ctx.Done():
			p.discard(queue)
			p.flush(session)
			session.finish(StateInterrupted, "")
			return
		case f, ok := <-queue:
			if !ok {
				if tag := session.ErrorTag(); tag != "" {
					session.finish(StateInterrupted, tag)
				} else if session.cancelled() {
					p.flush(session)
					session.finish(StateInterrupted, "")
				} else {
					session.finish(StateCompleted, "")
				}
				return
			}
			// Cancellation is checked before every write.
			if session.cancelled() {
				frames.ReleaseAudioFrame(f)
				p.discard(queue)
				p.flush(session)
				session.finish(StateInterrupted, "")
				return
			}
			if err := p.sink.Write(f); err != nil {
				// A single failed frame write is not fatal for the session.
				p.log.Warn("sink_write_error",
					"session_id", session.ID(),
					"seq", f.Seq(),
					"error", err.Error())
			} else if !wrote {
				wrote = true
				p.obs.RecordEvent(metrics.MetricsEvent{
					Name: "playback_first_frame",
					Time: time.Now(),
					Tags: map[string]string{"session_id": session.ID()},
				})
			}
			frames.ReleaseAudioFrame(f)
		}
	}
}

func (p *Pipeline) discard(queue chan frames.AudioFrame) {
	for {
		select {
		case f, ok := <-queue:
			if !ok {
				return
			}
			frames.ReleaseAudioFrame(f)
			p.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventFrameDrop,
				Time: time.Now(),
			})
		default:
			return
		}
	}
}

func (p *Pipeline) flush(session *Session) {
	if err := p.sink.Flush(); err != nil {
		p.log.Warn("sink_flush_error",
			"session_id", session.ID(),
			"error", err.Error())
	}
}
