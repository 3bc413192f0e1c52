package providers

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider turns a message window into one reply text.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
