package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Turn-local, recoverable.
	ReasonNoSpeech          ReasonCode = "no_speech"
	ReasonGenerationFailure ReasonCode = "generation_failure"
	ReasonGenerationTimeout ReasonCode = "generation_timeout"
	ReasonPlaybackFailure   ReasonCode = "playback_failure"
	ReasonPlaybackTimeout   ReasonCode = "playback_timeout"

	// Session-terminal.
	ReasonCaptureFailure ReasonCode = "capture_failure"
	ReasonSessionAborted ReasonCode = "session_aborted"

	// Provider plumbing.
	ReasonSTTConnect  ReasonCode = "stt_connect"
	ReasonSTTStream   ReasonCode = "stt_stream"
	ReasonTTSConnect  ReasonCode = "tts_connect"
	ReasonTTSStream   ReasonCode = "tts_stream"
	ReasonLLMGenerate ReasonCode = "llm_generate"
	ReasonRateLimit   ReasonCode = "rate_limit"
)

// Recoverable reports whether a reason is turn-local: it increments the
// error counter but does not end the session on its own.
func Recoverable(reason ReasonCode) bool {
	switch reason {
	case ReasonNoSpeech, ReasonGenerationFailure, ReasonGenerationTimeout,
		ReasonPlaybackFailure, ReasonPlaybackTimeout:
		return true
	}
	return false
}
