package metrics

import "time"

// Event names recorded by the conversation core.
const (
	EventTurnOutcome      = "turn_outcome"
	EventCancelLatencyUS  = "cancel_latency_us"
	EventCaptureLatencyMS = "capture_latency_ms"
	EventQueueSaturation  = "queue_saturation"
	EventBargeIn          = "barge_in"
	EventPollTick         = "barge_in_poll_tick"
	EventGenerateLatency  = "generate_latency_ms"
	EventFrameDrop        = "frame_drop"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
