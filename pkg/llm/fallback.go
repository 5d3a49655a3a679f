package llm

// Canned replies spoken when generation fails, so a recoverable error
// yields an apology rather than silence. Selection rotates by attempt so
// repeated failures do not repeat the same line.
var fallbackReplies = []string{
	"Sorry, I'm having a little trouble right now. Could you say that again?",
	"Hmm, something's not clicking on my end. Can you try that once more?",
	"I'm hitting a snag here. Could you rephrase that for me?",
	"Apologies, technical difficulties on my end. Mind repeating that?",
}

// Fallback returns the canned reply for the given attempt number.
func Fallback(attempt int) string {
	if attempt < 0 {
		attempt = -attempt
	}
	return fallbackReplies[attempt%len(fallbackReplies)]
}
