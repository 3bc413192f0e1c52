package agent

import (
	"fmt"

	"github.com/relaybot/relaybot/pkg/providers"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// ContextBuilder turns a contact's recent history plus the current message
// into the window sent to the model.
type ContextBuilder struct {
	// Turns is how many stored history entries precede the current message.
	Turns int
}

func NewContextBuilder(turns int) *ContextBuilder {
	if turns < 0 {
		turns = 0
	}
	return &ContextBuilder{Turns: turns}
}

// BuildChat numbers every entry as a user message: "message1: ...", "message2: ...".
func (cb *ContextBuilder) BuildChat(rec repository.ContactRecord, current string) []providers.Message {
	texts := make([]string, 0, cb.Turns+1)
	for _, turn := range rec.LastTurns(cb.Turns) {
		texts = append(texts, turn.Text)
	}
	texts = append(texts, current)

	messages := make([]providers.Message, 0, len(texts))
	for i, text := range texts {
		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("message%d: %s", i+1, text),
		})
	}
	return messages
}

// BuildSession replays history verbatim with assistant/user roles.
func (cb *ContextBuilder) BuildSession(rec repository.ContactRecord, current string) []providers.Message {
	turns := rec.LastTurns(cb.Turns)
	messages := make([]providers.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role := providers.RoleUser
		if turn.IsAssistant {
			role = providers.RoleAssistant
		}
		messages = append(messages, providers.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: current})
	return messages
}
