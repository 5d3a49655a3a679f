package bargein

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auralis-labs/duplex/pkg/capture"
	"github.com/auralis-labs/duplex/pkg/frames"
	"github.com/auralis-labs/duplex/pkg/playback"
)

type fakePartials struct {
	mu   sync.Mutex
	p    capture.PartialTranscript
	seen bool
}

func (f *fakePartials) set(text string) {
	f.mu.Lock()
	f.p = capture.PartialTranscript{Text: text, ObservedAt: time.Now()}
	f.seen = true
	f.mu.Unlock()
}

func (f *fakePartials) LatestPartial() (capture.PartialTranscript, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p, f.seen
}

func slowSource(n int) <-chan frames.Frame {
	out := make(chan frames.Frame)
	go func() {
		defer close(out)
		for i := 1; i <= n; i++ {
			out <- frames.NewAudioFrame("s", uint64(i), []byte{0, 0}, 16000, 1, nil)
			time.Sleep(5 * time.Millisecond)
		}
		out <- frames.NewControlFrame("s", uint64(n+1), frames.ControlEndOfStream, nil)
	}()
	return out
}

func fastConfig() Config {
	return Config{
		PollInterval:     5 * time.Millisecond,
		GraceWindow:      20 * time.Millisecond,
		ConsecutivePolls: 2,
		MinLength:        2,
	}
}

func TestBargeInCancelsPlayback(t *testing.T) {
	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(200))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}

	partials := &fakePartials{}
	det := NewDetector(partials, pipe, fastConfig())
	watch := det.Watch(context.Background(), session)

	// Let the grace window pass before speaking.
	time.Sleep(30 * time.Millisecond)
	partials.set("stop talking please")

	select {
	case conf, ok := <-watch:
		if !ok {
			t.Fatalf("watch closed without confirmation")
		}
		if conf.Fragment == "" {
			t.Fatalf("expected non-empty fragment")
		}
	case <-time.After(time.Second):
		t.Fatalf("barge-in not confirmed")
	}

	if session.State() != playback.StateInterrupted {
		t.Fatalf("expected INTERRUPTED playback, got %s", session.State())
	}
}

func TestShortNoiseNeverConfirms(t *testing.T) {
	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(40))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}

	partials := &fakePartials{}
	det := NewDetector(partials, pipe, fastConfig())
	watch := det.Watch(context.Background(), session)

	time.Sleep(30 * time.Millisecond)
	partials.set("a")

	if _, ok := <-watch; ok {
		t.Fatalf("one-character noise must not confirm a barge-in")
	}
	if got := pipe.AwaitCompletion(session, 2*time.Second); got != playback.OutcomeCompleted {
		t.Fatalf("expected playback to complete, got %s", got)
	}
}

// stepPartials returns one scripted partial per LatestPartial call, so a
// test can pin exactly what each poll observes. The first call (the arming
// baseline) sees nothing; the last step repeats once exhausted.
type stepPartials struct {
	mu    sync.Mutex
	steps []string
	calls int
}

func (s *stepPartials) LatestPartial() (capture.PartialTranscript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 || len(s.steps) == 0 {
		return capture.PartialTranscript{}, false
	}
	text := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return capture.PartialTranscript{Text: text, ObservedAt: time.Now()}, true
}

func TestShortRevisionDoesNotResetDebounce(t *testing.T) {
	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(200))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}

	// Poll 1 sees "ok" (streak 1), poll 2 sees the in-flight revision "o"
	// (below MinLength, already-rejected speech), poll 3 sees "okay". With
	// two consecutive polls required, poll 3 must confirm: the short
	// revision never resets the count.
	partials := &stepPartials{steps: []string{"ok", "o", "okay"}}
	det := NewDetector(partials, pipe, fastConfig())
	watch := det.Watch(context.Background(), session)

	select {
	case conf, ok := <-watch:
		if !ok {
			t.Fatalf("watch closed without confirmation")
		}
		if conf.Fragment != "okay" {
			t.Fatalf("expected fragment %q, got %q", "okay", conf.Fragment)
		}
	case <-time.After(time.Second):
		t.Fatalf("barge-in not confirmed")
	}
	partials.mu.Lock()
	got := partials.calls
	partials.mu.Unlock()
	if got != 4 {
		t.Fatalf("expected confirmation on the third speech poll, took %d calls", got-1)
	}
}

func TestSpeechDuringGraceWindowIsIgnored(t *testing.T) {
	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(40))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}

	partials := &fakePartials{}
	cfg := fastConfig()
	cfg.GraceWindow = 500 * time.Millisecond
	det := NewDetector(partials, pipe, cfg)
	watch := det.Watch(context.Background(), session)

	// Fires well inside the grace window and is never repeated after.
	partials.set("leftover agent echo")

	if _, ok := <-watch; ok {
		t.Fatalf("speech inside the grace window must not confirm")
	}
}

func TestStalePartialFromBeforeArmingIsIgnored(t *testing.T) {
	partials := &fakePartials{}
	partials.set("what was said last turn")
	time.Sleep(5 * time.Millisecond)

	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(40))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}
	det := NewDetector(partials, pipe, fastConfig())
	watch := det.Watch(context.Background(), session)

	if _, ok := <-watch; ok {
		t.Fatalf("a partial observed before arming must not confirm")
	}
	if session.State() != playback.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", session.State())
	}
}

func TestWatchStopsWhenContextCancelled(t *testing.T) {
	pipe := playback.NewPipeline(playback.DiscardSink{}, playback.Config{QueueCapacity: 4})
	session, err := pipe.Start(context.Background(), slowSource(200))
	if err != nil {
		t.Fatalf("start playback: %v", err)
	}
	defer pipe.Cancel(session)

	ctx, cancel := context.WithCancel(context.Background())
	det := NewDetector(&fakePartials{}, pipe, fastConfig())
	watch := det.Watch(ctx, session)
	cancel()

	select {
	case _, ok := <-watch:
		if ok {
			t.Fatalf("expected watch to close without confirmation")
		}
	case <-time.After(time.Second):
		t.Fatalf("watch did not stop after context cancel")
	}
}
