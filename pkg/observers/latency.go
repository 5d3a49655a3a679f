package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/auralis-labs/duplex/pkg/metrics"
)

// LatencyObserver reconstructs per-turn latency from the event stream and
// logs one summary line when the turn closes.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	speechFinal time.Time
	replyReady  time.Time
	firstFrame  time.Time
	turnDone    time.Time
	turnID      string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &trace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case metrics.EventCaptureLatencyMS:
		if t.speechFinal.IsZero() {
			t.speechFinal = ev.Time
		}
		if t.turnID == "" && ev.Tags != nil {
			t.turnID = ev.Tags["turn_id"]
		}
	case metrics.EventGenerateLatency:
		if t.replyReady.IsZero() {
			t.replyReady = ev.Time
		}
	case "playback_first_frame":
		if t.firstFrame.IsZero() {
			t.firstFrame = ev.Time
		}
	case metrics.EventTurnOutcome:
		t.turnDone = ev.Time
	}
	if !t.turnDone.IsZero() {
		o.logTurnLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(sessionID string, t *trace) {
	generateMS := durationMs(t.speechFinal, t.replyReady)
	firstAudioMS := durationMs(t.replyReady, t.firstFrame)
	turnMS := durationMs(t.speechFinal, t.turnDone)
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"turn_id", t.turnID,
		"generate_ms", generateMS,
		"first_audio_ms", firstAudioMS,
		"turn_ms", turnMS,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
