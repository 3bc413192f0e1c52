package bus

import (
	"context"
	"sync"
	"time"
)

// BusEvent represents an observed message event for dashboard streaming.
type BusEvent struct {
	Type     string           `json:"type"` // "inbound", "outbound", "qr_code" or "record"
	Inbound  *InboundMessage  `json:"inbound,omitempty"`
	Outbound *OutboundMessage `json:"outbound,omitempty"`
	QRCode   *QRCodeEvent     `json:"qr_code,omitempty"`
	Record   *RecordEvent     `json:"record,omitempty"`
	Time     time.Time        `json:"time"`
}

type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	observers []chan BusEvent
	obsMu     sync.RWMutex
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:   make(chan InboundMessage, 100),
		outbound:  make(chan OutboundMessage, 100),
		observers: make([]chan BusEvent, 0),
	}
}

// Subscribe returns a channel that receives copies of all bus events.
func (mb *MessageBus) Subscribe() chan BusEvent {
	ch := make(chan BusEvent, 50)
	mb.obsMu.Lock()
	mb.observers = append(mb.observers, ch)
	mb.obsMu.Unlock()
	return ch
}

// Unsubscribe removes an observer channel.
func (mb *MessageBus) Unsubscribe(ch chan BusEvent) {
	mb.obsMu.Lock()
	defer mb.obsMu.Unlock()
	for i, obs := range mb.observers {
		if obs == ch {
			mb.observers = append(mb.observers[:i], mb.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (mb *MessageBus) notifyObservers(event BusEvent) {
	event.Time = time.Now()
	mb.obsMu.RLock()
	defer mb.obsMu.RUnlock()
	for _, obs := range mb.observers {
		select {
		case obs <- event:
		default:
			// Non-blocking: skip slow observers
		}
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	mb.inbound <- msg
	mb.notifyObservers(BusEvent{Type: "inbound", Inbound: &msg})
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.outbound <- msg
	mb.notifyObservers(BusEvent{Type: "outbound", Outbound: &msg})
}

func (mb *MessageBus) PublishQRCode(event QRCodeEvent) {
	mb.notifyObservers(BusEvent{Type: "qr_code", QRCode: &event})
}

func (mb *MessageBus) PublishRecord(event RecordEvent) {
	mb.notifyObservers(BusEvent{Type: "record", Record: &event})
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.inbound)
		close(mb.outbound)
	})
}
