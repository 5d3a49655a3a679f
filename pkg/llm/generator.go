package llm

import "context"

// Message is one prior conversation turn handed to the generator.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ReplyGenerator produces the agent's next utterance. It may fail or time
// out; the caller treats both as recoverable.
type ReplyGenerator interface {
	Name() string
	Generate(ctx context.Context, utterance string, history []Message) (string, error)
}
