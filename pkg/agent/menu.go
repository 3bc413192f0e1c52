package agent

import (
	"context"
	"strings"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

const (
	topicModeModel = "model"
	topicModeFixed = "fixed"
)

// MenuResponder walks a contact through numbered topics. Outside a topic only
// a menu key is accepted; inside one, an exit word leaves it.
type MenuResponder struct {
	settings config.AgentConfig
	gen      Generator
	builder  *ContextBuilder
}

func NewMenuResponder(settings config.AgentConfig, gen Generator, builder *ContextBuilder) *MenuResponder {
	return &MenuResponder{settings: settings, gen: gen, builder: builder}
}

func (r *MenuResponder) Name() string { return "menu" }

func (r *MenuResponder) Respond(ctx context.Context, rec *repository.ContactRecord, msg bus.InboundMessage, now time.Time) Reply {
	if rec.State == repository.StateNone {
		return r.selectTopic(rec, msg, now)
	}

	if r.settings.IsExitWord(msg.Content) {
		rec.State = repository.StateNone
		return Reply{Text: r.settings.Messages.Exit, Changed: true, Reason: "exit"}
	}

	topic, ok := r.settings.TopicByState(string(rec.State))
	if !ok {
		// Stored state no longer matches any configured topic.
		logger.WarnCF("agent", "Contact is in an unknown topic, resetting", map[string]interface{}{
			"contact_id": rec.ContactID,
			"state":      string(rec.State),
		})
		rec.State = repository.StateNone
		return Reply{Text: r.settings.Messages.InvalidOption, Changed: true, Reason: "exit"}
	}

	switch topic.Mode {
	case topicModeModel:
		window := r.builder.BuildSession(*rec, msg.Content)
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
	default:
		rec.PushTurn(repository.Turn{Timestamp: now.Unix(), Text: msg.Content}, r.settings.HistoryLimit)
		return Reply{Text: topic.Prompt, Changed: true, Reason: "turn"}
	}
}

func (r *MenuResponder) selectTopic(rec *repository.ContactRecord, msg bus.InboundMessage, now time.Time) Reply {
	topic, ok := r.settings.TopicByKey(strings.TrimSpace(msg.Content))
	if !ok {
		return Reply{Text: r.settings.Messages.InvalidOption}
	}

	rec.State = repository.State(topic.State)
	rec.PushTurn(repository.Turn{Timestamp: now.Unix(), Text: msg.Content}, r.settings.HistoryLimit)
	return Reply{
		Text:    strings.ReplaceAll(topic.Greeting, "{name}", msg.DisplayName()),
		Changed: true,
		Reason:  "topic",
	}
}
