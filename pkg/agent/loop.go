package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/contacts"
	"github.com/relaybot/relaybot/pkg/export"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/storage/repository"
	"github.com/relaybot/relaybot/pkg/utils"
)

// ExportSink receives one row per inbound message.
type ExportSink interface {
	Append(row export.Row) error
}

type AgentLoop struct {
	bus       *bus.MessageBus
	store     *contacts.Store
	responder Responder
	exporter  ExportSink
	settings  config.AgentConfig
	namespace string
	now       func() time.Time
	running   atomic.Bool
	inflight  sync.WaitGroup

	queueMu sync.Mutex
	queues  map[string][]bus.InboundMessage
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, store *contacts.Store, gen Generator) (*AgentLoop, error) {
	resolved := cfg.ResolveAgentConfig()
	responder, err := NewResponder(resolved.Settings, gen)
	if err != nil {
		return nil, err
	}

	logger.InfoCF("agent", "Agent loop initialized", map[string]interface{}{
		"strategy":        responder.Name(),
		"namespace":       resolved.Namespace,
		"welcome_enabled": resolved.Settings.WelcomeEnabled,
		"context_turns":   resolved.Settings.ContextTurns,
	})

	return &AgentLoop{
		bus:       msgBus,
		store:     store,
		responder: responder,
		settings:  resolved.Settings,
		namespace: resolved.Namespace,
		now:       time.Now,
		queues:    make(map[string][]bus.InboundMessage),
	}, nil
}

// SetExporter enables the per-message CSV export.
func (al *AgentLoop) SetExporter(sink ExportSink) {
	al.exporter = sink
}

func (al *AgentLoop) SetClock(now func() time.Time) {
	al.now = now
}

func (al *AgentLoop) Strategy() string {
	return al.responder.Name()
}

func (al *AgentLoop) Namespace() string {
	return al.namespace
}

// Run consumes the inbound bus until ctx is done. Contacts are handled
// concurrently; messages of one contact are handled one at a time in arrival order.
func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)
	defer al.running.Store(false)

	for al.running.Load() {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		al.enqueue(ctx, msg)
	}

	al.inflight.Wait()
	return nil
}

// enqueue appends msg to its contact's queue and starts a drain worker when
// none is running for that contact.
func (al *AgentLoop) enqueue(ctx context.Context, msg bus.InboundMessage) {
	id := contactIDFor(msg)

	al.queueMu.Lock()
	pending, busy := al.queues[id]
	al.queues[id] = append(pending, msg)
	al.queueMu.Unlock()
	if busy {
		return
	}

	al.inflight.Add(1)
	go al.drain(ctx, id)
}

func (al *AgentLoop) drain(ctx context.Context, id string) {
	defer al.inflight.Done()
	for {
		al.queueMu.Lock()
		pending := al.queues[id]
		if len(pending) == 0 {
			delete(al.queues, id)
			al.queueMu.Unlock()
			return
		}
		msg := pending[0]
		al.queues[id] = pending[1:]
		al.queueMu.Unlock()

		al.handle(ctx, msg)
	}
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

func (al *AgentLoop) handle(ctx context.Context, msg bus.InboundMessage) {
	response, err := al.ProcessInbound(ctx, msg)
	if err != nil {
		logger.ErrorCF("agent", "Failed to persist contact record", map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"session_key": msg.SessionKey,
			"error":       err.Error(),
		})
	}
	if response == "" || ctx.Err() != nil {
		return
	}
	al.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: response,
	})
}

// ProcessInbound runs the full pipeline for one message and returns the reply
// text. A non-nil error means the record could not be persisted; the reply is
// still returned so the contact gets an answer.
func (al *AgentLoop) ProcessInbound(ctx context.Context, msg bus.InboundMessage) (string, error) {
	now := al.now()
	contactID := contactIDFor(msg)

	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel":    msg.Channel,
			"chat_id":    msg.ChatID,
			"sender_id":  msg.SenderID,
			"contact_id": contactID,
		})

	al.exportRow(msg, now)

	unlock := al.store.Lock(contactID)
	defer unlock()

	rec := al.store.GetOrCreate(contactID)

	if al.settings.WelcomeEnabled && now.Unix()-rec.LastWelcomeAt > al.settings.WelcomeIntervalSeconds {
		rec.LastWelcomeAt = now.Unix()
		err := al.persist(ctx, rec, "welcome")
		return al.settings.Messages.Welcome, err
	}

	reply := al.responder.Respond(ctx, &rec, msg, now)

	var err error
	if reply.Changed {
		err = al.persist(ctx, rec, reply.Reason)
	}

	logger.InfoCF("agent", fmt.Sprintf("Response: %s", utils.Truncate(reply.Text, 120)),
		map[string]interface{}{
			"contact_id": contactID,
			"state":      string(rec.State),
			"changed":    reply.Changed,
			"fallback":   reply.Fallback,
		})

	return reply.Text, err
}

func (al *AgentLoop) persist(ctx context.Context, rec repository.ContactRecord, reason string) error {
	if err := al.store.Update(ctx, rec); err != nil {
		return err
	}
	al.bus.PublishRecord(bus.RecordEvent{
		ContactID: rec.ContactID,
		State:     string(rec.State),
		Reason:    reason,
	})
	return nil
}

func (al *AgentLoop) exportRow(msg bus.InboundMessage, now time.Time) {
	if al.exporter == nil {
		return
	}
	at := msg.ReceivedAt
	if at.IsZero() {
		at = now
	}
	if err := al.exporter.Append(export.Row{
		ContactName: msg.DisplayName(),
		PhoneNumber: export.PhoneNumber(msg.SenderID),
		Message:     msg.Content,
		At:          at,
	}); err != nil {
		logger.ErrorCF("export", "Failed to append message to CSV export", map[string]interface{}{
			"sender_id": msg.SenderID,
			"error":     err.Error(),
		})
	}
}

// contactIDFor keys records by channel and chat so the same number on two
// channels keeps separate state.
func contactIDFor(msg bus.InboundMessage) string {
	if msg.SessionKey != "" {
		return msg.SessionKey
	}
	return fmt.Sprintf("%s:%s", msg.Channel, msg.ChatID)
}
