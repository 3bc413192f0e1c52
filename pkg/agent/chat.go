package agent

import (
	"context"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// ChatResponder sends every message to the model with a short numbered window.
type ChatResponder struct {
	settings config.AgentConfig
	gen      Generator
	builder  *ContextBuilder
}

func NewChatResponder(settings config.AgentConfig, gen Generator, builder *ContextBuilder) *ChatResponder {
	return &ChatResponder{settings: settings, gen: gen, builder: builder}
}

func (r *ChatResponder) Name() string { return "chat" }

func (r *ChatResponder) Respond(ctx context.Context, rec *repository.ContactRecord, msg bus.InboundMessage, now time.Time) Reply {
	window := r.builder.BuildChat(*rec, msg.Content)
	res := r.gen.Generate(ctx, window)

	rec.PushTurn(repository.Turn{Timestamp: now.Unix(), Text: msg.Content}, r.settings.HistoryLimit)
	if !res.Fallback {
		rec.PushTurn(repository.Turn{Timestamp: now.Unix(), Text: res.Text, IsAssistant: true}, r.settings.HistoryLimit)
	}
	return Reply{
		Text:     r.settings.ReplyPrefix + res.Text,
		Changed:  true,
		Reason:   "turn",
		Fallback: res.Fallback,
	}
}
