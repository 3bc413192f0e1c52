package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/event"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/utils"
)

const qqDedupeSize = 4096

// QQChannel answers guild @-mentions and direct messages of a QQ bot over
// the botgo websocket session.
type QQChannel struct {
	*BaseChannel
	config config.QQConfig
	api    openapi.OpenAPI
	cancel context.CancelFunc
	seen   *recentIDs
}

func NewQQChannel(cfg config.QQConfig, msgBus *bus.MessageBus) (*QQChannel, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("QQ app_id and app_secret not configured")
	}
	return &QQChannel{
		BaseChannel: NewBaseChannel("qq", cfg, msgBus, cfg.AllowFrom),
		config:      cfg,
		seen:        newRecentIDs(qqDedupeSize),
	}, nil
}

func (c *QQChannel) Start(ctx context.Context) error {
	logger.InfoC("qq", "Starting QQ bot")

	appID, err := strconv.ParseUint(c.config.AppID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid app_id %q: %w", c.config.AppID, err)
	}
	tok := token.BotToken(appID, c.config.AppSecret)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.api = botgo.NewOpenAPI(tok).WithTimeout(5 * time.Second)

	intent := event.RegisterHandlers(
		c.handleATMessage(),
		c.handleDirectMessage(),
	)

	wsInfo, err := c.api.WS(runCtx, nil, "")
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get websocket info: %w", err)
	}

	sessions := botgo.NewSessionManager()
	go func() {
		if err := sessions.Start(wsInfo, tok, &intent); err != nil {
			logger.ErrorCF("qq", "WebSocket session error", map[string]interface{}{
				"error": err.Error(),
			})
			c.setRunning(false)
		}
	}()

	c.setRunning(true)
	logger.InfoCF("qq", "QQ bot connected", map[string]interface{}{
		"shards": wsInfo.Shards,
	})
	return nil
}

func (c *QQChannel) Stop(ctx context.Context) error {
	logger.InfoC("qq", "Stopping QQ bot")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *QQChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("QQ bot not started")
	}
	if _, err := c.api.PostMessage(ctx, msg.ChatID, &dto.MessageToCreate{Content: msg.Content}); err != nil {
		return fmt.Errorf("failed to send qq message: %w", err)
	}
	return nil
}

func (c *QQChannel) handleATMessage() event.ATMessageEventHandler {
	return func(_ *dto.WSPayload, data *dto.WSATMessageData) error {
		msg := (*dto.Message)(data)
		// Guild replies go back to the text channel.
		c.forward(msg, msg.ChannelID, "at")
		return nil
	}
}

func (c *QQChannel) handleDirectMessage() event.DirectMessageEventHandler {
	return func(_ *dto.WSPayload, data *dto.WSDirectMessageData) error {
		msg := (*dto.Message)(data)
		// Direct message replies are addressed by the DM guild.
		c.forward(msg, msg.GuildID, "direct")
		return nil
	}
}

func (c *QQChannel) forward(msg *dto.Message, chatID, kind string) {
	if msg == nil || c.seen.seenBefore(msg.ID) {
		return
	}
	if msg.Author == nil || msg.Author.ID == "" || msg.Content == "" {
		return
	}

	logger.InfoCF("qq", "Message received", map[string]interface{}{
		"kind":    kind,
		"sender":  msg.Author.ID,
		"chat":    chatID,
		"preview": utils.Truncate(msg.Content, 50),
	})

	c.HandleMessage(msg.Author.ID, msg.Author.Username, chatID, msg.Content, map[string]string{
		"message_id": msg.ID,
		"guild_id":   msg.GuildID,
		"kind":       kind,
	})
}

// recentIDs remembers the last n message ids; botgo may redeliver events
// after a websocket resume.
type recentIDs struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

func newRecentIDs(limit int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, limit), limit: limit}
}

func (r *recentIDs) seenBefore(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return true
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.ids, oldest)
	}
	return false
}
