package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
)

// Manager owns the enabled channels and routes outbound replies to them.
type Manager struct {
	bus      *bus.MessageBus
	mu       sync.RWMutex
	channels map[string]Channel
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
	}

	snapshot := cfg.Clone()
	ch := snapshot.Channels

	if ch.WhatsApp.Enabled {
		wa, err := NewWhatsAppChannel(ch.WhatsApp, msgBus)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp channel: %w", err)
		}
		m.RegisterChannel(wa)
	}
	if ch.Telegram.Enabled {
		tg, err := NewTelegramChannel(ch.Telegram, msgBus)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram channel: %w", err)
		}
		m.RegisterChannel(tg)
	}
	if ch.Discord.Enabled {
		dc, err := NewDiscordChannel(ch.Discord, msgBus)
		if err != nil {
			return nil, fmt.Errorf("failed to create discord channel: %w", err)
		}
		m.RegisterChannel(dc)
	}
	if ch.QQ.Enabled {
		qq, err := NewQQChannel(ch.QQ, msgBus)
		if err != nil {
			return nil, fmt.Errorf("failed to create qq channel: %w", err)
		}
		m.RegisterChannel(qq)
	}
	if ch.Console.Enabled {
		m.RegisterChannel(NewConsoleChannel(ch.Console, msgBus))
	}

	logger.InfoCF("channels", "Channel manager initialized", map[string]interface{}{
		"channels": m.Names(),
	})
	return m, nil
}

func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. A channel that
// fails to start is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	if len(channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
	}

	started := 0
	for _, ch := range channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
			continue
		}
		started++
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchOutbound(dispatchCtx)
	}()

	logger.InfoCF("channels", "Channels started", map[string]interface{}{
		"started": started,
		"total":   len(channels),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to stop channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Failed to deliver reply", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Send delivers msg through the channel it names.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	ch, ok := m.GetChannel(msg.Channel)
	if !ok {
		return fmt.Errorf("unknown channel: %s", msg.Channel)
	}
	if !ch.IsRunning() {
		return fmt.Errorf("channel %s is not running", msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// GetStatus reports each channel's running state.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		status[name] = map[string]interface{}{
			"running": ch.IsRunning(),
		}
	}
	return status
}
