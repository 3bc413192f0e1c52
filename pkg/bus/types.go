package bus

import "time"

type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	// Display name as reported by the channel (WhatsApp push name, Telegram username...).
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DisplayName falls back to the sender id when the channel reports no name.
func (m InboundMessage) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// QRCodeEvent represents a QR code authentication event from a channel.
type QRCodeEvent struct {
	Channel string `json:"channel"`        // e.g. "whatsapp"
	Event   string `json:"event"`          // "code", "success", "timeout", "error"
	Code    string `json:"code,omitempty"` // raw QR data string (only for "code" event)
	SVG     string `json:"svg,omitempty"`  // server-rendered SVG of the QR code
}

// RecordEvent reports a persisted contact record change.
type RecordEvent struct {
	ContactID string `json:"contact_id"`
	State     string `json:"state"`
	Reason    string `json:"reason"` // "welcome", "topic", "exit", "turn"
}
