package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
)

func consume(t *testing.T, mb *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatalf("no inbound message published")
	}
	return msg
}

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("whatsapp", nil, bus.NewMessageBus(), nil)
	if !open.IsAllowed("anyone") {
		t.Fatalf("empty allow list should admit everyone")
	}

	restricted := NewBaseChannel("whatsapp", nil, bus.NewMessageBus(), []string{"+5511999", " 42 "})
	tests := map[string]bool{
		"5511999":                true,
		"5511999@s.whatsapp.net": true,
		"+5511999":               true,
		"42":                     true,
		"5511000":                false,
		"":                       false,
	}
	for sender, want := range tests {
		if got := restricted.IsAllowed(sender); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", sender, got, want)
		}
	}
}

func TestHandleMessagePublishesWithSessionKey(t *testing.T) {
	mb := bus.NewMessageBus()
	base := NewBaseChannel("whatsapp", nil, mb, nil)
	base.HandleMessage("5511999", "Ana", "5511999@s.whatsapp.net", "hello", map[string]string{"message_id": "X"})

	msg := consume(t, mb)
	if msg.SessionKey != "whatsapp:5511999@s.whatsapp.net" {
		t.Fatalf("session key = %q", msg.SessionKey)
	}
	if msg.SenderName != "Ana" || msg.Content != "hello" || msg.Metadata["message_id"] != "X" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.ReceivedAt.IsZero() {
		t.Fatalf("received_at not stamped")
	}
}

func TestHandleMessageDropsDisallowedSender(t *testing.T) {
	mb := bus.NewMessageBus()
	base := NewBaseChannel("telegram", nil, mb, []string{"1"})
	base.HandleMessage("2", "", "2", "hi", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatalf("disallowed sender reached the bus")
	}
}

type fakeChannel struct {
	*BaseChannel
	mu       sync.Mutex
	sent     []bus.OutboundMessage
	startErr error
	sendErr  error
}

func newFakeChannel(name string, mb *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, nil, mb, nil)}
}

func (f *fakeChannel) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.setRunning(true)
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context) error {
	f.setRunning(false)
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newEmptyManager(t *testing.T, mb *bus.MessageBus) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Channels.WhatsApp.Enabled = false
	m, err := NewManager(cfg, mb)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManagerDispatchesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	m := newEmptyManager(t, mb)
	wa := newFakeChannel("whatsapp", mb)
	m.RegisterChannel(wa)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(context.Background())

	mb.PublishOutbound(bus.OutboundMessage{Channel: "whatsapp", ChatID: "1@s.whatsapp.net", Content: "hi"})

	deadline := time.Now().Add(time.Second)
	for wa.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if wa.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", wa.sentCount())
	}
}

func TestManagerSendErrors(t *testing.T) {
	mb := bus.NewMessageBus()
	m := newEmptyManager(t, mb)

	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "nope"}); err == nil {
		t.Fatalf("expected unknown channel error")
	}

	stopped := newFakeChannel("discord", mb)
	m.RegisterChannel(stopped)
	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "discord"}); err == nil {
		t.Fatalf("expected not running error")
	}
}

func TestManagerSkipsChannelsThatFailToStart(t *testing.T) {
	mb := bus.NewMessageBus()
	m := newEmptyManager(t, mb)
	broken := newFakeChannel("telegram", mb)
	broken.startErr = errors.New("bad token")
	ok := newFakeChannel("console", mb)
	m.RegisterChannel(broken)
	m.RegisterChannel(ok)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(context.Background())

	status := m.GetStatus()
	if status["telegram"].(map[string]interface{})["running"] != false {
		t.Fatalf("telegram status = %v", status["telegram"])
	}
	if status["console"].(map[string]interface{})["running"] != true {
		t.Fatalf("console status = %v", status["console"])
	}
	if got := strings.Join(m.Names(), ","); got != "console,telegram" {
		t.Fatalf("Names() = %s", got)
	}
}

func TestNewManagerRejectsMisconfiguredChannel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.WhatsApp.Enabled = false
	cfg.Channels.Telegram.Enabled = true
	if _, err := NewManager(cfg, bus.NewMessageBus()); err == nil {
		t.Fatalf("expected error for telegram without token")
	}
}

func TestTelegramUpdateBecomesInbound(t *testing.T) {
	mb := bus.NewMessageBus()
	tg, err := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, mb)
	if err != nil {
		t.Fatalf("NewTelegramChannel() error = %v", err)
	}

	tg.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, FirstName: "Ana", UserName: "ana"},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "1",
	}})

	msg := consume(t, mb)
	if msg.SessionKey != "telegram:42" || msg.SenderName != "Ana" || msg.Content != "1" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestDiscordIgnoresBots(t *testing.T) {
	mb := bus.NewMessageBus()
	dc, err := NewDiscordChannel(config.DiscordConfig{Token: "tok"}, mb)
	if err != nil {
		t.Fatalf("NewDiscordChannel() error = %v", err)
	}
	session := &discordgo.Session{State: discordgo.NewState()}

	dc.handleMessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "b1", Bot: true},
		ChannelID: "c1",
		Content:   "beep",
	}})
	dc.handleMessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "u1", Username: "ana"},
		ChannelID: "c1",
		Content:   "hello",
	}})

	msg := consume(t, mb)
	if msg.SenderID != "u1" || msg.SessionKey != "discord:c1" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestExtractTextContent(t *testing.T) {
	if got := extractTextContent(&waE2E.Message{Conversation: proto.String("hi")}); got != "hi" {
		t.Fatalf("conversation = %q", got)
	}
	ext := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted")}}
	if got := extractTextContent(ext); got != "quoted" {
		t.Fatalf("extended = %q", got)
	}
	if got := extractTextContent(nil); got != "" {
		t.Fatalf("nil = %q", got)
	}
}

func TestRecentIDs(t *testing.T) {
	r := newRecentIDs(2)
	if r.seenBefore("a") || r.seenBefore("b") {
		t.Fatalf("fresh ids reported as seen")
	}
	if !r.seenBefore("a") {
		t.Fatalf("a should be remembered")
	}
	r.seenBefore("c")
	if r.seenBefore("a") {
		t.Fatalf("a should have been evicted")
	}
}

func TestGenerateQRSVG(t *testing.T) {
	svg, err := generateQRSVG("2@abcdef,ghijkl,mnopqr", 256)
	if err != nil {
		t.Fatalf("generateQRSVG() error = %v", err)
	}
	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("not an svg document: %.60s", svg)
	}
	if !strings.Contains(svg, `width="256"`) || !strings.Contains(svg, "h1v1h-1z") {
		t.Fatalf("svg missing size or modules")
	}
}
