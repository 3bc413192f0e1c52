package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/utils"
)

type DiscordChannel struct {
	*BaseChannel
	config  config.DiscordConfig
	session *discordgo.Session
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token not configured")
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg, msgBus, cfg.AllowFrom),
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	session, err := discordgo.New("Bot " + c.config.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(c.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.session = session
	c.setRunning(true)

	logger.InfoC("discord", "Discord bot connected")
	return nil
}

func (c *DiscordChannel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}

	logger.InfoCF("discord", "Message received", map[string]interface{}{
		"sender":  m.Author.ID,
		"channel": m.ChannelID,
		"preview": utils.Truncate(m.Content, 50),
	})

	metadata := map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
		"username":   m.Author.Username,
	}
	c.HandleMessage(m.Author.ID, m.Author.Username, m.ChannelID, m.Content, metadata)
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.session == nil {
		return fmt.Errorf("discord session not open")
	}
	if _, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}
