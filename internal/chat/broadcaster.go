// ABOUTME: Room-based fan-out of state-change events to live subscribers
// ABOUTME: In-memory Broadcaster implementation decoupled from any transport

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Chronosbabu/serveurbabu/internal/metrics"
)

// Event names delivered to live connections.
const (
	EventNewMessage        = "new_message"
	EventMessageDelivered  = "message_delivered"
	EventMessagesDelivered = "messages_delivered"
	EventMessagesRead      = "messages_read"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
)

// Event is a named payload routed to a room. Payloads are JSON-marshalable.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// IDPayload carries a single message id (message_delivered).
type IDPayload struct {
	ID string `json:"id"`
}

// IDsPayload carries batched message ids (messages_delivered, messages_read).
type IDsPayload struct {
	IDs []string `json:"ids"`
}

// UserPayload carries a presence transition (user_online, user_offline).
type UserPayload struct {
	Username string `json:"username"`
}

// TypingPayload carries an ephemeral typing indicator (typing, stop_typing).
type TypingPayload struct {
	Sender string `json:"sender"`
}

// MessagePayload is the new_message payload: the stored message decorated
// with the sender's avatar when one is resolvable.
type MessagePayload struct {
	*Message
	Avatar string `json:"avatar,omitempty"`
}

// Broadcaster routes events to subscribed connections. A room id is an
// identity's personal notification channel. Implementations must never block
// a publisher on a slow subscriber.
type Broadcaster interface {
	// Subscribe registers for events on room. Returns the receive channel
	// and a subscription id for Unsubscribe. The subscription is cleaned up
	// when ctx is cancelled.
	Subscribe(ctx context.Context, room string) (<-chan Event, string)

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(room, subID string)

	// Publish delivers an event to every subscriber of room.
	Publish(room string, event Event)

	// PublishAll delivers an event to every subscriber of every room.
	PublishAll(event Event)

	// Close shuts down the broadcaster and closes all subscriber channels.
	Close()
}

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// RoomBroadcaster is the in-memory Broadcaster used by the single-process
// deployment. Delivery is at-least-once and best-effort: events are dropped
// for subscribers whose channels are full, and reconciliation repairs any
// missed delivery state on the next connect.
type RoomBroadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]chan Event // room -> subID -> ch
	logger *slog.Logger
}

// NewRoomBroadcaster creates a broadcaster. Pass nil logger for default.
func NewRoomBroadcaster(logger *slog.Logger) *RoomBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomBroadcaster{
		rooms:  make(map[string]map[string]chan Event),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given room.
func (b *RoomBroadcaster) Subscribe(ctx context.Context, room string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.rooms[room]; !ok {
		b.rooms[room] = make(map[string]chan Event)
	}
	b.rooms[room][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "room", room, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(room, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *RoomBroadcaster) Unsubscribe(room, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[room]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.rooms, room)
	}

	b.logger.Debug("subscriber removed", "room", room, "sub_id", subID)
}

// Publish sends an event to all subscribers of the given room.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *RoomBroadcaster) Publish(room string, event Event) {
	metrics.EventsPublished.WithLabelValues(event.Name).Inc()

	// Sends stay under the read lock. They cannot block (select/default), and
	// Unsubscribe/Close need the write lock to close a channel, so a channel
	// can never be closed mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.rooms[room]
	if !ok || len(subs) == 0 {
		return
	}
	b.send(subs, room, event)
}

// PublishAll sends an event to every subscriber of every room. Used for
// global presence transitions (user_online, user_offline).
func (b *RoomBroadcaster) PublishAll(event Event) {
	metrics.EventsPublished.WithLabelValues(event.Name).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for room, subs := range b.rooms {
		b.send(subs, room, event)
	}
}

// send delivers to one room's subscribers. Callers hold mu (read side).
func (b *RoomBroadcaster) send(subs map[string]chan Event, room string, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber channel full: drop the event for this subscriber.
			metrics.EventsDropped.Inc()
			b.logger.Debug("dropped event for slow subscriber",
				"room", room, "event", event.Name)
		}
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *RoomBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room, subs := range b.rooms {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.rooms, room)
	}

	b.logger.Debug("broadcaster closed")
}
