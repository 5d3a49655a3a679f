package duplex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auralis-labs/duplex/pkg/bargein"
	"github.com/auralis-labs/duplex/pkg/capture"
	"github.com/auralis-labs/duplex/pkg/conversation"
	"github.com/auralis-labs/duplex/pkg/logging"
	"github.com/auralis-labs/duplex/pkg/metrics"
	"github.com/auralis-labs/duplex/pkg/observers"
	"github.com/auralis-labs/duplex/pkg/playback"
	"github.com/auralis-labs/duplex/pkg/redact"
)

// Engine wires configuration, providers, and observers into runnable
// conversation sessions.
type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	sink      playback.Sink
	obs       metrics.Observer
	asyncObs  *metrics.AsyncObserver
	artifacts *os.File
	log       *slog.Logger
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Sink receives playback audio. Defaults to a discard sink, which is
	// useful for tests and dry runs.
	Sink playback.Sink
	// ExtraObservers join the built-in latency and logger observers.
	ExtraObservers []metrics.Observer
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	log := logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	log.Info("duplex_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"capture_mode", cfg.Capture.Mode,
		"redact_transcripts", redact.Enabled(),
	)

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(log),
		observers.NewLoggerObserver(log),
	}
	obsList = append(obsList, opts.ExtraObservers...)

	e := &Engine{
		cfg:       cfg,
		providers: opts.Providers,
		sink:      opts.Sink,
		log:       logging.NewComponentLogger(log, "engine"),
	}
	if e.providers == nil {
		e.providers = NewProviderRegistry()
	}
	if e.sink == nil {
		e.sink = playback.DiscardSink{}
	}

	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		if f, err := openArtifactFile(dir); err != nil {
			e.log.Warn("artifacts_unavailable", slog.String("error", err.Error()))
		} else {
			e.artifacts = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		}
	}

	multi := observers.NewMultiObserver(obsList...)
	sampled := &tickSampler{
		inner:   multi,
		sampler: metrics.NewSamplingObserver(multi, cfg.Observability.PollTickSample),
	}
	e.asyncObs = metrics.NewAsyncObserver(sampled, 2048)
	e.obs = e.asyncObs
	return e
}

// RunSession runs one full conversation to completion.
func (e *Engine) RunSession(ctx context.Context) (conversation.Report, error) {
	sessionID := uuid.NewString()
	log := e.log.With(slog.String("session_id", sessionID))

	sttProv, err := e.providers.BuildSTT(e.cfg.Vendors.STT.Provider, e.cfg, sessionID)
	if err != nil {
		return conversation.Report{}, err
	}
	ttsProv, err := e.providers.BuildTTS(e.cfg.Vendors.TTS.Provider, e.cfg, sessionID)
	if err != nil {
		return conversation.Report{}, err
	}
	defer func() {
		if cerr := ttsProv.Close(); cerr != nil {
			log.Warn("tts_close_error", slog.String("error", cerr.Error()))
		}
	}()
	generator, err := e.providers.BuildLLM(e.cfg.Vendors.LLM.Provider, e.cfg)
	if err != nil {
		return conversation.Report{}, err
	}

	monitor := capture.NewMonitor(sttProv, capture.Config{
		FinalizedBacklog: e.cfg.Capture.FinalizedBacklog,
	})
	monitor.SetObserver(e.obs)
	if err := monitor.Start(ctx); err != nil {
		return conversation.Report{}, err
	}
	defer monitor.Stop()

	pipe := playback.NewPipeline(e.sink, playback.Config{
		QueueCapacity:  e.cfg.Playback.QueueCapacity,
		EnqueueTimeout: time.Duration(e.cfg.Playback.EnqueueTimeoutMS) * time.Millisecond,
	})
	pipe.SetObserver(e.obs)

	detector := bargein.NewDetector(monitor, pipe, bargein.Config{
		PollInterval:     time.Duration(e.cfg.BargeIn.PollIntervalMS) * time.Millisecond,
		GraceWindow:      time.Duration(e.cfg.BargeIn.GraceWindowMS) * time.Millisecond,
		ConsecutivePolls: e.cfg.BargeIn.ConsecutivePolls,
		MinLength:        e.cfg.BargeIn.MinLength,
	})
	detector.SetObserver(e.obs)

	coord := conversation.NewCoordinator(monitor, generator, ttsProv, pipe, detector, conversation.Config{
		SpeechTimeout:   time.Duration(e.cfg.Conversation.SpeechTimeoutMS) * time.Millisecond,
		GenerateTimeout: time.Duration(e.cfg.Conversation.GenerateTimeoutMS) * time.Millisecond,
		PlaybackTimeout: time.Duration(e.cfg.Conversation.PlaybackTimeoutMS) * time.Millisecond,
		MaxTurns:        e.cfg.Conversation.MaxTurns,
		ErrorCeiling:    e.cfg.Conversation.ErrorCeiling,
		ExitPhrases:     e.cfg.Conversation.ExitPhrases,
		HistoryLimit:    e.cfg.Conversation.HistoryLimit,
		Preamble:        e.cfg.Conversation.BasePrompt,
		WelcomeText:     e.cfg.Conversation.WelcomeText,
		FarewellText:    e.cfg.Conversation.FarewellText,
		ErrorExitText:   e.cfg.Conversation.ErrorExitText,
	})
	coord.SetObserver(e.obs)

	log.Info("session_started")
	rep, runErr := coord.Run(ctx)

	stats := monitor.Stats()
	log.Info("session_finished",
		slog.Int("turns", rep.Turns),
		slog.Int("completed", rep.Completed),
		slog.Int("interrupted", rep.Interrupted),
		slog.String("reason", rep.Reason),
		slog.Bool("graceful_exit", rep.GracefulExit),
		slog.Int("transcriptions", stats.Finalized),
		slog.Int64("avg_capture_latency_ms", stats.AvgLatency.Milliseconds()),
	)
	return rep, runErr
}

// Close drains the async observer and closes the artifact file.
func (e *Engine) Close() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.artifacts != nil {
		_ = e.artifacts.Close()
	}
}

func openArtifactFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("session-%s.jsonl", time.Now().Format("20060102-150405"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// tickSampler routes the high-frequency poll tick through a sampler and
// everything else straight through.
type tickSampler struct {
	inner   metrics.Observer
	sampler *metrics.SamplingObserver
}

func (t *tickSampler) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Name == metrics.EventPollTick {
		t.sampler.RecordEvent(ev)
		return
	}
	t.inner.RecordEvent(ev)
}
