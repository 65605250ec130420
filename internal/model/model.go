package model

import "context"

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation, replayed verbatim to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Completer is the model provider abstraction used by the relay.
type Completer interface {
	// Complete sends history followed by prompt as the final user message.
	Complete(ctx context.Context, prompt string, history []Message) (CompletionResponse, error)
	// Model names the model identifier used for requests.
	Model() string
}

type requestIDKey struct{}

// WithRequestID tags ctx with a correlation id carried into provider logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
