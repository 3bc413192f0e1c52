package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/providers"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// Reply is what a Responder decided for one inbound message.
type Reply struct {
	Text string
	// Changed reports that the record was mutated and must be persisted.
	Changed bool
	// Reason tags the change for record events ("topic", "exit", "turn").
	Reason   string
	Fallback bool
}

// Responder decides the reply for a message once the welcome gate passed.
// It may mutate rec; the caller persists it when Reply.Changed is set.
type Responder interface {
	Name() string
	Respond(ctx context.Context, rec *repository.ContactRecord, msg bus.InboundMessage, now time.Time) Reply
}

// Generator is the inference surface responders depend on.
type Generator interface {
	Generate(ctx context.Context, messages []providers.Message) providers.Result
}

// NewResponder builds the strategy named by settings.Strategy.
func NewResponder(settings config.AgentConfig, gen Generator) (Responder, error) {
	builder := NewContextBuilder(settings.ContextTurns)
	switch settings.Strategy {
	case "", "menu":
		return NewMenuResponder(settings, gen, builder), nil
	case "chat":
		return NewChatResponder(settings, gen, builder), nil
	default:
		return nil, fmt.Errorf("unknown agent strategy: %s", settings.Strategy)
	}
}
