package bargein

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/auralis-labs/duplex/pkg/capture"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/metrics"
	"github.com/auralis-labs/duplex/pkg/playback"
	"github.com/auralis-labs/duplex/pkg/redact"
)

// PartialSource is the slice of the capture monitor the detector needs.
type PartialSource interface {
	LatestPartial() (capture.PartialTranscript, bool)
}

// Canceler interrupts a playback session. Cancel must be synchronous and
// idempotent.
type Canceler interface {
	Cancel(*playback.Session)
}

type Config struct {
	// PollInterval is how often the latest partial is sampled.
	PollInterval time.Duration
	// GraceWindow suppresses detection immediately after playback starts,
	// when the recognizer may still be flushing trailing agent audio.
	GraceWindow time.Duration
	// ConsecutivePolls is how many polls in a row must see candidate
	// speech before the detector confirms.
	ConsecutivePolls int
	// MinLength is the minimum number of characters of fresh speech that
	// count as a candidate.
	MinLength int
}

const (
	defaultPollInterval     = 20 * time.Millisecond
	defaultGraceWindow      = 180 * time.Millisecond
	defaultConsecutivePolls = 2
	defaultMinLength        = 2
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = defaultGraceWindow
	}
	if c.ConsecutivePolls <= 0 {
		c.ConsecutivePolls = defaultConsecutivePolls
	}
	if c.MinLength <= 0 {
		c.MinLength = defaultMinLength
	}
	return c
}

// Confirmation reports a confirmed barge-in: the fragment of user speech
// that triggered it and when it was confirmed.
type Confirmation struct {
	Fragment string
	At       time.Time
}

// Detector watches the capture stream while the agent is speaking and
// cancels playback when the user talks over it. Detection is debounced:
// a single noisy partial never interrupts the agent.
type Detector struct {
	source   PartialSource
	canceler Canceler
	cfg      Config
	obs      metrics.Observer
	log      *slog.Logger
}

func NewDetector(source PartialSource, canceler Canceler, cfg Config) *Detector {
	return &Detector{
		source:   source,
		canceler: canceler,
		cfg:      cfg.withDefaults(),
		obs:      metrics.NoopObserver{},
		log:      logging.NewComponentLogger(slog.Default(), "bargein"),
	}
}

func (d *Detector) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

// Watch polls for user speech while session is streaming. It returns a
// channel that receives at most one Confirmation, then closes. The channel
// closes without a value when playback ends on its own or ctx is cancelled.
// Watch never blocks the playback session it observes.
func (d *Detector) Watch(ctx context.Context, session *playback.Session) <-chan Confirmation {
	out := make(chan Confirmation, 1)
	go func() {
		defer close(out)
		if conf, ok := d.run(ctx, session); ok {
			out <- conf
		}
	}()
	return out
}

func (d *Detector) run(ctx context.Context, session *playback.Session) (Confirmation, bool) {
	armed := time.Now()
	baseline, _ := d.source.LatestPartial()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	streak := 0
	fragment := ""
	for {
		select {
		case <-ctx.Done():
			return Confirmation{}, false
		case <-session.Done():
			return Confirmation{}, false
		case now := <-ticker.C:
			if session.State() != playback.StateStreaming {
				return Confirmation{}, false
			}
			d.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventPollTick,
				Time: now,
			})
			if now.Sub(armed) < d.cfg.GraceWindow {
				continue
			}
			frag, fresh := d.freshSpeech(baseline, armed)
			if !fresh {
				// No user speech on the wire resets the count. A fresh
				// fragment below MinLength does not: recognizers revise
				// in-flight partials, and a short revision of speech the
				// detector already rejected must not restart the debounce.
				streak = 0
				fragment = ""
				continue
			}
			if len(frag) < d.cfg.MinLength {
				continue
			}
			// The fragment only ever accumulates within a streak.
			if len(frag) >= len(fragment) {
				fragment = frag
			}
			streak++
			if streak < d.cfg.ConsecutivePolls {
				continue
			}
			d.confirm(session, fragment)
			return Confirmation{Fragment: fragment, At: time.Now()}, true
		}
	}
}

// freshSpeech returns user speech observed after arming, beyond whatever
// partial was already on the wire when playback began. The second return
// reports whether any fresh speech exists at all; length gating is the
// caller's concern.
func (d *Detector) freshSpeech(baseline capture.PartialTranscript, armed time.Time) (string, bool) {
	p, ok := d.source.LatestPartial()
	if !ok || !p.ObservedAt.After(armed) {
		return "", false
	}
	frag := p.Text
	if baseline.Text != "" && strings.HasPrefix(frag, baseline.Text) {
		frag = strings.TrimSpace(strings.TrimPrefix(frag, baseline.Text))
	}
	frag = strings.TrimSpace(frag)
	if frag == "" {
		return "", false
	}
	return frag, true
}

func (d *Detector) confirm(session *playback.Session, fragment string) {
	start := time.Now()
	d.canceler.Cancel(session)
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventBargeIn,
		Time:  time.Now(),
		Value: float64(time.Since(start).Microseconds()),
		Tags:  map[string]string{"playback_session": session.ID()},
	})
	d.log.Info("barge_in_confirmed",
		slog.String("playback_session", session.ID()),
		slog.String("fragment", redact.Text(fragment)),
	)
}
