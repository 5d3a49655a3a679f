package playback

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/auralis-labs/duplex/pkg/frames"
	"github.com/auralis-labs/duplex/pkg/metrics"
)

type collectSink struct {
	mu      sync.Mutex
	written []uint64
	flushes int
	delay   time.Duration
}

func (s *collectSink) Write(f frames.AudioFrame) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.written = append(s.written, f.Seq())
	s.mu.Unlock()
	return nil
}

func (s *collectSink) Flush() error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func (s *collectSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func audioSource(n int, gap time.Duration) <-chan frames.Frame {
	out := make(chan frames.Frame)
	go func() {
		defer close(out)
		for i := 1; i <= n; i++ {
			out <- frames.NewAudioFrame("s", uint64(i), []byte{0, 0}, 16000, 1, nil)
			if gap > 0 {
				time.Sleep(gap)
			}
		}
		out <- frames.NewControlFrame("s", uint64(n+1), frames.ControlEndOfStream, nil)
	}()
	return out
}

func TestPlaybackCompletesOnSentinel(t *testing.T) {
	sink := &collectSink{}
	p := NewPipeline(sink, Config{QueueCapacity: 8})
	session, err := p.Start(context.Background(), audioSource(5, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.AwaitCompletion(session, time.Second); got != OutcomeCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if session.State() != StateCompleted {
		t.Fatalf("expected state COMPLETED, got %s", session.State())
	}
	if sink.count() != 5 {
		t.Fatalf("expected 5 frames written, got %d", sink.count())
	}
}

func TestCancelInterruptsAndFlushesSynchronously(t *testing.T) {
	sink := &collectSink{delay: 5 * time.Millisecond}
	p := NewPipeline(sink, Config{QueueCapacity: 8})
	session, err := p.Start(context.Background(), audioSource(100, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	start := time.Now()
	p.Cancel(session)
	elapsed := time.Since(start)

	if session.State() != StateInterrupted {
		t.Fatalf("expected INTERRUPTED after cancel, got %s", session.State())
	}
	if sink.flushCount() == 0 {
		t.Fatalf("expected sink flush before Cancel returned")
	}
	// Cancellation resolves within roughly one frame-write duration.
	if elapsed > 100*time.Millisecond {
		t.Fatalf("cancel took too long: %s", elapsed)
	}
	if got := p.AwaitCompletion(session, time.Second); got != OutcomeInterrupted {
		t.Fatalf("expected INTERRUPTED outcome, got %s", got)
	}
}

func TestCancelAtRandomOffsetsStaysBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		sink := &collectSink{delay: time.Millisecond}
		p := NewPipeline(sink, Config{QueueCapacity: 8})
		session, err := p.Start(context.Background(), audioSource(200, 0))
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		time.Sleep(time.Duration(rng.Intn(20)) * time.Millisecond)
		start := time.Now()
		p.Cancel(session)
		if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
			t.Fatalf("iteration %d: cancel latency %s exceeds bound", i, elapsed)
		}
		if session.State() != StateInterrupted {
			t.Fatalf("iteration %d: expected INTERRUPTED, got %s", i, session.State())
		}
	}
}

func TestCancelIdempotentOnTerminalSession(t *testing.T) {
	sink := &collectSink{}
	p := NewPipeline(sink, Config{QueueCapacity: 8})
	session, err := p.Start(context.Background(), audioSource(3, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.AwaitCompletion(session, time.Second); got != OutcomeCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	p.Cancel(session)
	p.Cancel(session)
	if session.State() != StateCompleted {
		t.Fatalf("cancel after completion must not change state, got %s", session.State())
	}
}

func TestStartSupersedesStreamingSession(t *testing.T) {
	sink := &collectSink{delay: 2 * time.Millisecond}
	p := NewPipeline(sink, Config{QueueCapacity: 8})
	first, err := p.Start(context.Background(), audioSource(500, 0))
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := p.Start(context.Background(), audioSource(3, 0))
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	// The prior session must already be terminal before Start returned.
	if first.State() != StateInterrupted {
		t.Fatalf("expected first session INTERRUPTED, got %s", first.State())
	}
	if got := p.AwaitCompletion(second, time.Second); got != OutcomeCompleted {
		t.Fatalf("expected COMPLETED for second session, got %s", got)
	}
}

func TestSynthesisErrorEndsSessionInterruptedWithTag(t *testing.T) {
	source := make(chan frames.Frame)
	go func() {
		defer close(source)
		source <- frames.NewAudioFrame("s", 1, []byte{0, 0}, 16000, 1, nil)
		source <- frames.NewControlFrame("s", 2, frames.ControlCancel,
			map[string]string{frames.MetaErrorTag: "tts_stream"})
	}()
	sink := &collectSink{}
	p := NewPipeline(sink, Config{QueueCapacity: 8})
	session, err := p.Start(context.Background(), source)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.AwaitCompletion(session, time.Second); got != OutcomeInterrupted {
		t.Fatalf("expected INTERRUPTED, got %s", got)
	}
	if session.ErrorTag() != "tts_stream" {
		t.Fatalf("expected error tag tts_stream, got %q", session.ErrorTag())
	}
	// The already-queued frame still drained.
	if sink.count() != 1 {
		t.Fatalf("expected queued frame to drain, wrote %d", sink.count())
	}
}

func TestBackpressureBlocksProducerInsteadOfDropping(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	sink := &collectSink{delay: 3 * time.Millisecond}
	p := NewPipeline(sink, Config{QueueCapacity: 4, EnqueueTimeout: time.Second})
	p.SetObserver(obs)
	session, err := p.Start(context.Background(), audioSource(40, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.AwaitCompletion(session, 5*time.Second); got != OutcomeCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if sink.count() != 40 {
		t.Fatalf("expected all 40 frames to reach sink under backpressure, got %d", sink.count())
	}
	if n := len(obs.Named(metrics.EventQueueSaturation)); n != 0 {
		t.Fatalf("expected no saturation drops with generous timeout, got %d", n)
	}
}

func TestSaturationDropsAreLoggedNotSilent(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	sink := &collectSink{delay: 20 * time.Millisecond}
	p := NewPipeline(sink, Config{QueueCapacity: 2, EnqueueTimeout: time.Millisecond})
	p.SetObserver(obs)
	session, err := p.Start(context.Background(), audioSource(30, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.AwaitCompletion(session, 5*time.Second); got != OutcomeCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if sink.count() == 0 {
		t.Fatalf("saturation must not drop every frame")
	}
	if n := len(obs.Named(metrics.EventQueueSaturation)); n == 0 {
		t.Fatalf("expected saturation events to be recorded")
	}
}
