package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auralis-labs/duplex/pkg/adapters/stt"
	"github.com/auralis-labs/duplex/pkg/errorsx"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/metrics"
	"github.com/auralis-labs/duplex/pkg/redact"
)

// PartialTranscript is the most recent in-progress recognition for the
// current speech segment.
type PartialTranscript struct {
	Text       string
	ObservedAt time.Time
}

// FinalizedUtterance is a completed speech segment. It is immutable and
// delivered to at most one caller.
type FinalizedUtterance struct {
	Text        string
	CompletedAt time.Time
}

// Stats is a snapshot of capture activity since Start.
type Stats struct {
	Finalized  int
	AvgLatency time.Duration
}

type Config struct {
	// FinalizedBacklog bounds how many finalized segments may sit
	// unconsumed before the oldest is discarded. Capture never pauses
	// waiting for a consumer.
	FinalizedBacklog int
}

const defaultFinalizedBacklog = 8

// Monitor wraps a speech-to-text provider and exposes its recognition
// stream two ways: a non-blocking read of the latest partial, and a
// suspending wait for the next finalized segment. It runs continuously;
// it is never paused during agent playback.
type Monitor struct {
	provider stt.SpeechToTextProvider
	obs      metrics.Observer
	log      *slog.Logger

	finalized chan FinalizedUtterance
	failedCh  chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once

	mu         sync.Mutex
	latest     PartialTranscript
	hasLatest  bool
	segStart   time.Time
	finalCount int
	latencySum time.Duration
}

func NewMonitor(provider stt.SpeechToTextProvider, cfg Config) *Monitor {
	backlog := cfg.FinalizedBacklog
	if backlog <= 0 {
		backlog = defaultFinalizedBacklog
	}
	return &Monitor{
		provider:  provider,
		obs:       metrics.NoopObserver{},
		log:       logging.NewComponentLogger(slog.Default(), "capture"),
		finalized: make(chan FinalizedUtterance, backlog),
		failedCh:  make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

func (m *Monitor) SetObserver(obs metrics.Observer) {
	if obs != nil {
		m.obs = obs
	}
}

// Start opens the provider connection and begins consuming its results.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.provider.Start(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCaptureFailure)
	}
	go m.consume()
	m.log.Info("capture_started", slog.String("provider", m.provider.Name()))
	return nil
}

// Stop closes the provider connection. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if err := m.provider.Close(); err != nil {
			m.log.Warn("capture_close_error", slog.String("error", err.Error()))
		}
	})
}

// LatestPartial returns the freshest in-progress transcript without
// blocking. The second return reports whether any partial has been seen.
func (m *Monitor) LatestPartial() (PartialTranscript, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasLatest
}

// NextFinalized suspends until a finalized segment arrives, the timeout
// elapses, the monitor stops, the capture stream fails, or ctx is
// cancelled. Each finalized segment is delivered exactly once.
func (m *Monitor) NextFinalized(ctx context.Context, timeout time.Duration) (FinalizedUtterance, error) {
	// Segments finalized before a failure are still delivered.
	select {
	case utt := <-m.finalized:
		return utt, nil
	default:
	}

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case utt := <-m.finalized:
		return utt, nil
	case <-expire:
		return FinalizedUtterance{}, errorsx.New(errorsx.ReasonNoSpeech)
	case <-m.failedCh:
		return FinalizedUtterance{}, errorsx.New(errorsx.ReasonCaptureFailure)
	case <-m.stopCh:
		return FinalizedUtterance{}, errorsx.New(errorsx.ReasonSessionAborted)
	case <-ctx.Done():
		return FinalizedUtterance{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonSessionAborted)
	}
}

// Stats returns counters accumulated since Start.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Finalized: m.finalCount}
	if m.finalCount > 0 {
		s.AvgLatency = m.latencySum / time.Duration(m.finalCount)
	}
	return s
}

func (m *Monitor) consume() {
	for ev := range m.provider.Results() {
		text := ApplyCorrections(ev.Text)
		if text == "" {
			continue
		}
		now := time.Now()

		m.mu.Lock()
		m.latest = PartialTranscript{Text: text, ObservedAt: now}
		m.hasLatest = true
		if m.segStart.IsZero() {
			m.segStart = now
		}
		var latency time.Duration
		if ev.IsFinal {
			latency = now.Sub(m.segStart)
			m.segStart = time.Time{}
			m.finalCount++
			m.latencySum += latency
		}
		m.mu.Unlock()

		if ev.IsFinal {
			m.obs.RecordEvent(metrics.MetricsEvent{
				Name:  metrics.EventCaptureLatencyMS,
				Time:  now,
				Value: float64(latency.Milliseconds()),
				Tags:  map[string]string{"provider": m.provider.Name()},
			})
			m.pushFinalized(FinalizedUtterance{Text: text, CompletedAt: now})
		}
	}

	select {
	case <-m.stopCh:
		// Orderly shutdown.
	default:
		m.log.Error("capture_stream_closed", slog.String("provider", m.provider.Name()))
		close(m.failedCh)
	}
}

// pushFinalized never blocks: when the backlog is full the oldest
// unconsumed segment is discarded in favor of the new one.
func (m *Monitor) pushFinalized(utt FinalizedUtterance) {
	for {
		select {
		case m.finalized <- utt:
			return
		default:
		}
		select {
		case old := <-m.finalized:
			m.log.Warn("finalized_backlog_full", slog.String("dropped", redact.Text(old.Text)))
		default:
		}
	}
}
