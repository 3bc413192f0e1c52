package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/utils"
)

// TelegramChannel long-polls the Bot API for updates.
type TelegramChannel struct {
	*BaseChannel
	config config.TelegramConfig
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token not configured")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", cfg, msgBus, cfg.AllowFrom),
		config:      cfg,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (long polling)")

	bot, err := tgbotapi.NewBotAPI(c.config.Token)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c.bot = bot

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.poll(pollCtx, updates)

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": bot.Self.UserName,
	})
	return nil
}

func (c *TelegramChannel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(update)
		}
	}
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	name := msg.From.FirstName
	if name == "" {
		name = msg.From.UserName
	}

	logger.InfoCF("telegram", "Message received", map[string]interface{}{
		"sender":  senderID,
		"chat":    chatID,
		"preview": utils.Truncate(msg.Text, 50),
	})

	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
		"username":   msg.From.UserName,
	}
	c.HandleMessage(senderID, name, chatID, msg.Text, metadata)
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot")
	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID '%s': %w", msg.ChatID, err)
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, msg.Content)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
