package channels

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/utils"
)

const qrSVGSize = 256

// WhatsAppChannel talks to WhatsApp Web through whatsmeow. The device session
// lives in its own SQLite file so pairing survives restarts.
type WhatsAppChannel struct {
	*BaseChannel
	client     *whatsmeow.Client
	config     config.WhatsAppConfig
	container  *sqlstore.Container
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func NewWhatsAppChannel(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*WhatsAppChannel, error) {
	base := NewBaseChannel("whatsapp", cfg, msgBus, cfg.AllowFrom)

	return &WhatsAppChannel{
		BaseChannel: base,
		config:      cfg,
	}, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start opens the device store, connects, and runs QR pairing when no
// session exists yet.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	logger.InfoC("whatsapp", "Starting WhatsApp channel")

	storePath := c.resolveStorePath()
	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", storePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open whatsmeow database: %w", err)
	}
	// Single connection avoids SQLITE_BUSY under concurrent event handlers.
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite", logger.WhatsApp("Database"))
	if err := container.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade whatsmeow database: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device from store: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, logger.WhatsApp("Client"))
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		logger.InfoC("whatsapp", "No existing session found, starting QR code pairing")
		if err := c.loginWithQR(ctx); err != nil {
			return fmt.Errorf("QR login failed: %w", err)
		}
	} else {
		logger.InfoCF("whatsapp", "Resuming existing session", map[string]interface{}{
			"device_id": c.client.Store.ID.String(),
		})
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	c.setRunning(true)

	reconnCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	go c.reconnectLoop(reconnCtx)

	logger.InfoC("whatsapp", "WhatsApp channel started")
	return nil
}

func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	logger.InfoC("whatsapp", "Stopping WhatsApp channel")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	if c.client != nil {
		c.client.Disconnect()
		c.client = nil
	}
	if c.container != nil {
		c.container.Close()
		c.container = nil
	}
	c.setRunning(false)
	return nil
}

// ---------------------------------------------------------------------------
// Pairing
// ---------------------------------------------------------------------------

// loginWithQR prints each pairing code to the terminal and publishes it as an
// SVG for dashboard subscribers until the phone scans one.
func (c *WhatsAppChannel) loginWithQR(ctx context.Context) error {
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect for QR: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Println("\n--- Scan this QR code with WhatsApp (Linked Devices) ---")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			fmt.Println("--- Waiting for scan... ---")
			c.publishQR("code", evt.Code)

		case "success":
			devID := "unknown"
			if c.client.Store.ID != nil {
				devID = c.client.Store.ID.String()
			}
			logger.InfoCF("whatsapp", "WhatsApp pairing successful", map[string]interface{}{
				"device_id": devID,
			})
			c.publishQR("success", "")
			return nil

		case "timeout":
			c.publishQR("timeout", "")
			return fmt.Errorf("QR code pairing timed out, restart to try again")

		default:
			if evt.Error != nil {
				c.publishQR("error", "")
				return fmt.Errorf("QR pairing error: %w", evt.Error)
			}
		}
	}

	// The channel can close after the success event already raced ahead.
	if c.client.IsConnected() || c.client.Store.ID != nil {
		return nil
	}
	return fmt.Errorf("QR channel closed unexpectedly")
}

func (c *WhatsAppChannel) publishQR(event, code string) {
	qe := bus.QRCodeEvent{Channel: c.Name(), Event: event, Code: code}
	if code != "" {
		svg, err := generateQRSVG(code, qrSVGSize)
		if err != nil {
			logger.WarnCF("whatsapp", "Failed to render QR SVG", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			qe.SVG = svg
		}
	}
	c.bus.PublishQRCode(qe)
}

func (c *WhatsAppChannel) resolveStorePath() string {
	path := c.config.StorePath
	if path == "" {
		path = "~/.relaybot/whatsapp.db"
	}
	return config.ExpandHome(path)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleIncomingMessage(v)
	case *events.Connected:
		logger.InfoC("whatsapp", "WhatsApp client is ready")
	case *events.Disconnected:
		logger.WarnC("whatsapp", "WhatsApp disconnected")
	case *events.LoggedOut:
		logger.ErrorCF("whatsapp", "WhatsApp logged out", map[string]interface{}{
			"reason": fmt.Sprintf("%v", v.Reason),
		})
		c.setRunning(false)
	case *events.HistorySync:
		c.logLatestMessage(v)
	}
}

// logLatestMessage reports the newest message found in a history sync. It is
// a startup diagnostic only; synced messages are never answered.
func (c *WhatsAppChannel) logLatestMessage(evt *events.HistorySync) {
	if evt.Data == nil {
		return
	}

	var (
		latestTS   uint64
		latestText string
		latestChat string
	)
	for _, conv := range evt.Data.GetConversations() {
		for _, hm := range conv.GetMessages() {
			info := hm.GetMessage()
			if info == nil || info.GetMessageTimestamp() <= latestTS {
				continue
			}
			text := extractTextContent(info.GetMessage())
			if text == "" {
				continue
			}
			latestTS = info.GetMessageTimestamp()
			latestText = text
			latestChat = conv.GetID()
		}
	}

	if latestTS == 0 {
		logger.InfoC("whatsapp", "No messages found in history sync")
		return
	}
	logger.InfoCF("whatsapp", fmt.Sprintf("Latest message: %s", utils.Truncate(latestText, 120)), map[string]interface{}{
		"chat":      latestChat,
		"timestamp": time.Unix(int64(latestTS), 0).Format(time.RFC3339),
	})
}

func (c *WhatsAppChannel) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	content := extractTextContent(evt.Message)
	if content == "" {
		return
	}

	senderID := evt.Info.Sender.User
	chatID := evt.Info.Chat.String()

	logger.InfoCF("whatsapp", "Message received", map[string]interface{}{
		"sender":  senderID,
		"chat":    chatID,
		"preview": utils.Truncate(content, 50),
	})

	metadata := map[string]string{
		"message_id": evt.Info.ID,
		"sender_jid": evt.Info.Sender.String(),
		"is_group":   fmt.Sprintf("%t", evt.Info.Chat.Server == types.GroupServer),
		"timestamp":  evt.Info.Timestamp.Format(time.RFC3339),
	}

	c.HandleMessage(senderID, evt.Info.PushName, chatID, content, metadata)
}

func extractTextContent(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (c *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("whatsapp client not connected")
	}

	targetJID, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID '%s': %w", msg.ChatID, err)
	}

	_ = c.client.SendChatPresence(ctx, targetJID, types.ChatPresenceComposing, "")

	resp, err := c.client.SendMessage(ctx, targetJID, &waE2E.Message{
		Conversation: proto.String(msg.Content),
	})
	if err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	_ = c.client.SendChatPresence(ctx, targetJID, types.ChatPresencePaused, "")

	logger.DebugCF("whatsapp", "Message sent", map[string]interface{}{
		"to":         targetJID.String(),
		"message_id": resp.ID,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Reconnection
// ---------------------------------------------------------------------------

func (c *WhatsAppChannel) reconnectLoop(ctx context.Context) {
	backoff := 5 * time.Second
	maxBackoff := 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}

		c.mu.Lock()
		client := c.client
		c.mu.Unlock()
		if client == nil {
			return
		}
		if client.IsConnected() || !client.IsLoggedIn() {
			continue
		}

		logger.WarnCF("whatsapp", "Connection lost, attempting reconnect", map[string]interface{}{
			"backoff_seconds": backoff.Seconds(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := client.Connect(); err != nil {
			logger.ErrorCF("whatsapp", "Reconnection failed", map[string]interface{}{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		logger.InfoC("whatsapp", "Reconnected successfully")
		backoff = 5 * time.Second
	}
}
