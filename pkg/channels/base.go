package channels

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/logger"
)

// Channel is one messaging network adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries what every adapter shares: its name, the bus and the
// sender allow list.
type BaseChannel struct {
	name      string
	config    interface{}
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, config interface{}, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		config:    config,
		bus:       msgBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed reports whether senderID may talk to the bot. An empty allow list
// admits everyone. Entries match the full id, the id without its JID server
// part, or the id without a leading "+".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	candidates := []string{senderID}
	if idx := strings.Index(senderID, "@"); idx > 0 {
		candidates = append(candidates, senderID[:idx])
	}

	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(strings.TrimSpace(allowed), "+")
		if allowed == "" {
			continue
		}
		for _, candidate := range candidates {
			if strings.TrimPrefix(candidate, "+") == allowed {
				return true
			}
		}
	}
	return false
}

// HandleMessage publishes an inbound message on the bus once the sender
// passes the allow list. The session key is "<channel>:<chatID>".
func (c *BaseChannel) HandleMessage(senderID, senderName, chatID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		logger.DebugCF(c.name, "Message from sender outside allow list ignored", map[string]interface{}{
			"sender_id": senderID,
		})
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		SenderName: senderName,
		ChatID:     chatID,
		Content:    content,
		SessionKey: fmt.Sprintf("%s:%s", c.name, chatID),
		Metadata:   metadata,
	})
}
