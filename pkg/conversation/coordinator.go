package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/auralis-labs/duplex/pkg/adapters/tts"
	"github.com/auralis-labs/duplex/pkg/bargein"
	"github.com/auralis-labs/duplex/pkg/capture"
	"github.com/auralis-labs/duplex/pkg/errorsx"
	"github.com/auralis-labs/duplex/pkg/frames"
	"github.com/auralis-labs/duplex/pkg/llm"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/metrics"
	"github.com/auralis-labs/duplex/pkg/playback"
	"github.com/auralis-labs/duplex/pkg/redact"
)

// State names the coordinator's position in the turn cycle. Exposed for
// logging only; the coordinator itself is a single sequential control flow.
type State string

const (
	StateAwaitingSpeech State = "awaiting_speech"
	StateGenerating     State = "generating"
	StateSpeaking       State = "speaking"
	StateAborted        State = "aborted"
)

// SpeechSource is the slice of the capture monitor the coordinator needs.
type SpeechSource interface {
	NextFinalized(ctx context.Context, timeout time.Duration) (capture.FinalizedUtterance, error)
}

// Speaker is the slice of the playback pipeline the coordinator needs.
type Speaker interface {
	Start(ctx context.Context, source <-chan frames.Frame) (*playback.Session, error)
	Cancel(*playback.Session)
	AwaitCompletion(*playback.Session, time.Duration) playback.Outcome
}

// Interrupter arms barge-in detection for one playback session.
type Interrupter interface {
	Watch(ctx context.Context, session *playback.Session) <-chan bargein.Confirmation
}

type Config struct {
	// SpeechTimeout bounds the wait for a finalized utterance. Expiry is
	// a recoverable no-speech error.
	SpeechTimeout time.Duration
	// GenerateTimeout bounds one reply-generation call.
	GenerateTimeout time.Duration
	// PlaybackTimeout bounds one playback session.
	PlaybackTimeout time.Duration
	// MaxTurns forces the session to end after this many turns.
	MaxTurns int
	// ErrorCeiling aborts the session after this many consecutive
	// recoverable failures. Checked only at turn boundaries.
	ErrorCeiling int
	// ExitPhrases end the session gracefully when spoken verbatim.
	ExitPhrases []string
	// HistoryLimit bounds retained turns; the preamble is not counted.
	HistoryLimit int

	Preamble     string
	WelcomeText  string
	FarewellText string
	// ErrorExitText is spoken when the error ceiling aborts the session.
	ErrorExitText string
}

const (
	defaultSpeechTimeout   = 30 * time.Second
	defaultGenerateTimeout = 15 * time.Second
	defaultPlaybackTimeout = 30 * time.Second
	defaultMaxTurns        = 50
	defaultErrorCeiling    = 3
	defaultFarewell        = "Goodbye! It was nice talking with you."
	defaultErrorExit       = "I'm having persistent trouble, so I'll end our conversation here. Goodbye."
)

func defaultExitPhrases() []string {
	return []string{"quit", "exit", "goodbye", "bye"}
}

func (c Config) withDefaults() Config {
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = defaultSpeechTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = defaultGenerateTimeout
	}
	if c.PlaybackTimeout <= 0 {
		c.PlaybackTimeout = defaultPlaybackTimeout
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = defaultErrorCeiling
	}
	if len(c.ExitPhrases) == 0 {
		c.ExitPhrases = defaultExitPhrases()
	}
	if c.FarewellText == "" {
		c.FarewellText = defaultFarewell
	}
	if c.ErrorExitText == "" {
		c.ErrorExitText = defaultErrorExit
	}
	return c
}

// Report summarizes a finished session.
type Report struct {
	Turns        int
	Completed    int
	Interrupted  int
	GracefulExit bool
	Reason       string
}

// Session termination reasons.
const (
	ReasonExitPhrase    = "exit_phrase"
	ReasonErrorCeiling  = "error_ceiling"
	ReasonTurnCeiling   = "turn_ceiling"
	ReasonCaptureFailed = "capture_failure"
	ReasonCtxCancelled  = "cancelled"
)

// errorCounter tracks consecutive recoverable failures. Any successful
// turn resets it.
type errorCounter struct {
	consecutive int
}

func (e *errorCounter) fail() int  { e.consecutive++; return e.consecutive }
func (e *errorCounter) reset()     { e.consecutive = 0 }
func (e *errorCounter) count() int { return e.consecutive }

// Coordinator drives the conversation turn cycle: await speech, generate
// a reply, speak it while watching for barge-in, then loop. It owns the
// history exclusively.
type Coordinator struct {
	speech    SpeechSource
	generator llm.ReplyGenerator
	synth     tts.TextToSpeechProvider
	speaker   Speaker
	detector  Interrupter

	cfg     Config
	history *History
	errs    errorCounter
	obs     metrics.Observer
	log     *slog.Logger
}

func NewCoordinator(
	speech SpeechSource,
	generator llm.ReplyGenerator,
	synth tts.TextToSpeechProvider,
	speaker Speaker,
	detector Interrupter,
	cfg Config,
) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		speech:    speech,
		generator: generator,
		synth:     synth,
		speaker:   speaker,
		detector:  detector,
		cfg:       cfg,
		history:   NewHistory(cfg.HistoryLimit),
		obs:       metrics.NoopObserver{},
		log:       logging.NewComponentLogger(slog.Default(), "coordinator"),
	}
	if cfg.Preamble != "" {
		c.history.SetPreamble(cfg.Preamble)
	}
	return c
}

func (c *Coordinator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		c.obs = obs
	}
}

// History exposes the conversation log for observability. Only the
// coordinator mutates it.
func (c *Coordinator) History() *History { return c.history }

// Run drives the session until an exit phrase, the error ceiling, the
// turn ceiling, a capture failure, or ctx cancellation ends it. The
// returned error is non-nil only for capture failure or cancellation.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	var rep Report

	if c.cfg.WelcomeText != "" {
		c.history.Append(RoleAgent, c.cfg.WelcomeText)
		if _, conf, err := c.speak(ctx, c.cfg.WelcomeText); err == nil && conf != nil {
			// The user talked over the welcome; treat it as their opener.
			return c.loop(ctx, rep, conf.Fragment)
		}
	}
	return c.loop(ctx, rep, "")
}

func (c *Coordinator) loop(ctx context.Context, rep Report, pending string) (Report, error) {
	for {
		if err := ctx.Err(); err != nil {
			rep.Reason = ReasonCtxCancelled
			return rep, errorsx.Wrap(err, errorsx.ReasonSessionAborted)
		}
		// Ceilings are checked only here, at the turn boundary.
		if c.errs.count() >= c.cfg.ErrorCeiling {
			c.log.Warn("error_ceiling_reached", slog.Int("consecutive", c.errs.count()))
			c.speakBlind(ctx, c.cfg.ErrorExitText)
			rep.Reason = ReasonErrorCeiling
			return rep, errorsx.New(errorsx.ReasonSessionAborted)
		}
		if rep.Turns >= c.cfg.MaxTurns {
			c.log.Info("turn_ceiling_reached", slog.Int("turns", rep.Turns))
			c.speakBlind(ctx, c.cfg.FarewellText)
			rep.Reason = ReasonTurnCeiling
			return rep, nil
		}

		utterance := pending
		pending = ""
		if utterance == "" {
			var err error
			utterance, err = c.awaitSpeech(ctx)
			if err != nil {
				switch errorsx.Reason(err) {
				case errorsx.ReasonNoSpeech:
					c.recordOutcome("no_speech", c.errs.fail())
					continue
				case errorsx.ReasonCaptureFailure:
					rep.Reason = ReasonCaptureFailed
					return rep, err
				default:
					rep.Reason = ReasonCtxCancelled
					return rep, err
				}
			}
		}

		if c.isExitPhrase(utterance) {
			c.history.Append(RoleUser, utterance)
			c.log.Info("exit_phrase_recognized", slog.String("utterance", redact.Text(utterance)))
			c.speakBlind(ctx, c.cfg.FarewellText)
			rep.GracefulExit = true
			rep.Reason = ReasonExitPhrase
			return rep, nil
		}
		c.history.Append(RoleUser, utterance)

		reply, generated := c.generate(ctx, utterance)

		outcome, conf, err := c.speak(ctx, reply)
		if err != nil {
			c.recordOutcome("playback_failure", c.errs.fail())
			rep.Turns++
			continue
		}

		switch outcome {
		case playback.OutcomeCompleted:
			c.history.Append(RoleAgent, reply)
			if generated {
				c.errs.reset()
			}
			rep.Completed++
			c.recordOutcome("completed", c.errs.count())
		case playback.OutcomeInterrupted:
			c.history.Append(RoleAgent, reply)
			rep.Interrupted++
			if conf != nil {
				// Barge-in: the fragment becomes the next user input and
				// the awaiting-speech state is skipped entirely.
				if generated {
					c.errs.reset()
				}
				c.recordOutcome("interrupted", c.errs.count())
				pending = conf.Fragment
			} else {
				// Synthesis or sink failure ended the session early.
				c.recordOutcome("playback_failure", c.errs.fail())
			}
		case playback.OutcomeTimedOut:
			c.recordOutcome("playback_timeout", c.errs.fail())
		}
		rep.Turns++
	}
}

func (c *Coordinator) awaitSpeech(ctx context.Context) (string, error) {
	c.log.Debug("state_transition", slog.String("state", string(StateAwaitingSpeech)))
	utt, err := c.speech.NextFinalized(ctx, c.cfg.SpeechTimeout)
	if err != nil {
		return "", err
	}
	return utt.Text, nil
}

// generate calls the reply generator, substituting a rotating canned
// fallback on failure. The second return reports whether the reply came
// from the generator.
func (c *Coordinator) generate(ctx context.Context, utterance string) (string, bool) {
	c.log.Debug("state_transition", slog.String("state", string(StateGenerating)))
	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	reply, err := c.generator.Generate(genCtx, utterance, c.history.ToMessages())
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventGenerateLatency,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  map[string]string{"generator": c.generator.Name()},
	})
	if err != nil || len(strings.TrimSpace(reply)) < 2 {
		attempt := c.errs.fail()
		if err != nil {
			c.log.Warn("generation_failed",
				slog.String("error", errorsx.Wrap(err, errorsx.ReasonGenerationFailure).Error()),
				slog.Int("consecutive_errors", attempt),
			)
		} else {
			c.log.Warn("generation_empty", slog.Int("consecutive_errors", attempt))
		}
		return llm.Fallback(attempt), false
	}
	return reply, true
}

// speak synthesizes text and plays it while the detector watches for
// barge-in. It returns the playback outcome and, when the user interrupted,
// the confirmed fragment.
func (c *Coordinator) speak(ctx context.Context, text string) (playback.Outcome, *bargein.Confirmation, error) {
	c.log.Debug("state_transition", slog.String("state", string(StateSpeaking)))

	stream, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return playback.OutcomeInterrupted, nil, errorsx.Wrap(err, errorsx.ReasonPlaybackFailure)
	}
	session, err := c.speaker.Start(ctx, stream)
	if err != nil {
		return playback.OutcomeInterrupted, nil, errorsx.Wrap(err, errorsx.ReasonPlaybackFailure)
	}
	watch := c.detector.Watch(ctx, session)

	outcome := c.speaker.AwaitCompletion(session, c.cfg.PlaybackTimeout)
	if outcome == playback.OutcomeTimedOut {
		c.speaker.Cancel(session)
	}
	conf, ok := <-watch
	if ok && outcome == playback.OutcomeInterrupted {
		return outcome, &conf, nil
	}
	return outcome, nil, nil
}

// speakBlind plays a terminal message without arming barge-in; failures
// only get logged since the session is ending anyway.
func (c *Coordinator) speakBlind(ctx context.Context, text string) {
	if text == "" {
		return
	}
	stream, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		c.log.Warn("farewell_synthesis_failed", slog.String("error", err.Error()))
		return
	}
	session, err := c.speaker.Start(ctx, stream)
	if err != nil {
		c.log.Warn("farewell_playback_failed", slog.String("error", err.Error()))
		return
	}
	c.speaker.AwaitCompletion(session, c.cfg.PlaybackTimeout)
}

func (c *Coordinator) isExitPhrase(utterance string) bool {
	norm := strings.ToLower(strings.TrimSpace(utterance))
	norm = strings.Trim(norm, ".!?, ")
	for _, p := range c.cfg.ExitPhrases {
		if norm == p {
			return true
		}
	}
	return false
}

func (c *Coordinator) recordOutcome(outcome string, consecutiveErrors int) {
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTurnOutcome,
		Time: time.Now(),
		Tags: map[string]string{"outcome": outcome},
		Fields: map[string]any{
			"consecutive_errors": consecutiveErrors,
		},
	})
	c.log.Info("turn_finished",
		slog.String("outcome", outcome),
		slog.Int("consecutive_errors", consecutiveErrors),
	)
}
