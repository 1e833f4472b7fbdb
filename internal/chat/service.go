// ABOUTME: Service is the central messaging layer: append, deliver, read, reconcile
// ABOUTME: Broadcasts happen strictly after persistence commits, never before

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Chronosbabu/serveurbabu/internal/identity"
	"github.com/Chronosbabu/serveurbabu/internal/metrics"
)

// Service coordinates the conversation store, the presence registry and the
// event fan-out. All delivery-state transitions flow through here.
type Service struct {
	store       *Store
	presence    *PresenceRegistry
	broadcaster Broadcaster
	profiles    identity.Resolver
	logger      *slog.Logger
}

// NewService creates the messaging service. profiles may be nil to disable
// payload decoration. Pass nil logger for default.
func NewService(store *Store, presence *PresenceRegistry, broadcaster Broadcaster, profiles identity.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		presence:    presence,
		broadcaster: broadcaster,
		profiles:    profiles,
		logger:      logger.With("component", "chat"),
	}
}

// Presence exposes the registry for transport-layer queries.
func (s *Service) Presence() *PresenceRegistry {
	return s.presence
}

// Broadcaster exposes the fan-out for transport-layer subscriptions.
func (s *Service) Broadcaster() Broadcaster {
	return s.broadcaster
}

// SendText appends a text message from sender to receiver and emits the
// resulting events. id may carry a client-optimistic message id; empty means
// the server assigns one. If the receiver is present at append time the
// message is marked delivered as part of the same logical operation.
func (s *Service) SendText(ctx context.Context, sender, receiver, text, id string) (*Message, error) {
	if sender == "" {
		return nil, ErrNotAuthenticated
	}
	if receiver == "" {
		return nil, &ValidationError{Field: "receiver"}
	}
	if text == "" {
		return nil, &ValidationError{Field: "text"}
	}
	if receiver == sender {
		return nil, &ValidationError{Field: "receiver", Reason: "cannot message yourself"}
	}
	return s.send(ctx, sender, receiver, text, MessageTypeText, nil, id)
}

// SendFile appends a message referencing an uploaded file. The message type
// is inferred from the file name's extension and the text mirrors the
// reference, matching the wire shape clients already parse.
func (s *Service) SendFile(ctx context.Context, sender, receiver, filename, url string) (*Message, error) {
	if sender == "" {
		return nil, ErrNotAuthenticated
	}
	if receiver == "" {
		return nil, &ValidationError{Field: "receiver"}
	}
	if filename == "" || url == "" {
		return nil, &ValidationError{Field: "file"}
	}
	if receiver == sender {
		return nil, &ValidationError{Field: "receiver", Reason: "cannot message yourself"}
	}

	msgType := TypeForFilename(filename)
	text := fmt.Sprintf("[%s]: %s", msgType, filename)
	return s.send(ctx, sender, receiver, text, msgType, &url, "")
}

// send runs the shared append path. The presence check and the append form
// one logical operation: when the receiver is present the message is
// persisted already marked delivered, and the delivery event follows the
// commit.
func (s *Service) send(ctx context.Context, sender, receiver, text, msgType string, url *string, id string) (*Message, error) {
	delivered := s.presence.IsPresent(receiver)

	msg, err := s.store.Append(ctx, sender, receiver, text, msgType, url, id, delivered)
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(msgType).Inc()
	if delivered {
		metrics.MessagesDelivered.Inc()
	}

	payload := MessagePayload{Message: msg, Avatar: s.avatarFor(ctx, sender)}
	s.broadcaster.Publish(receiver, Event{Name: EventNewMessage, Payload: payload})
	s.broadcaster.Publish(sender, Event{Name: EventNewMessage, Payload: payload})
	if delivered {
		s.broadcaster.Publish(sender, Event{Name: EventMessageDelivered, Payload: IDPayload{ID: msg.ID}})
	}

	s.logger.Debug("message sent",
		"sender", sender, "receiver", receiver,
		"id", msg.ID, "type", msgType, "delivered", delivered)
	return msg, nil
}

// History returns the full ordered log between two identities; an unknown
// pair yields an empty log.
func (s *Service) History(ctx context.Context, a, b string) ([]*Message, error) {
	if a == "" {
		return nil, ErrNotAuthenticated
	}
	if b == "" {
		return nil, &ValidationError{Field: "counterpart"}
	}
	return s.store.History(ctx, a, b)
}

// Connect registers one live connection for identity: presence bookkeeping,
// the user_online transition, and the reconnect reconciliation pass that
// catches up delivery state accrued while offline.
func (s *Service) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrNotAuthenticated
	}

	if first := s.presence.Connect(identity); first {
		metrics.ConnectedUsers.Inc()
		s.broadcaster.PublishAll(Event{Name: EventUserOnline, Payload: UserPayload{Username: identity}})
	}

	newlyDelivered, err := s.store.MarkDeliveredAll(ctx, identity)
	if err != nil {
		// The user stays connected; the next connect repeats the pass.
		s.logger.Error("reconnect reconciliation failed", "identity", identity, "error", err)
		return nil
	}
	metrics.ReconciliationRuns.Inc()

	for counterpart, ids := range newlyDelivered {
		metrics.MessagesDelivered.Add(float64(len(ids)))
		s.broadcaster.Publish(counterpart, Event{Name: EventMessagesDelivered, Payload: IDsPayload{IDs: ids}})
		s.logger.Debug("reconciled deliveries",
			"identity", identity, "counterpart", counterpart, "count", len(ids))
	}
	return nil
}

// Disconnect unregisters one live connection for identity. The user_offline
// transition fires only when no connections remain.
func (s *Service) Disconnect(identity string) {
	if identity == "" {
		return
	}
	if last := s.presence.Disconnect(identity); last {
		metrics.ConnectedUsers.Dec()
		s.broadcaster.PublishAll(Event{Name: EventUserOffline, Payload: UserPayload{Username: identity}})
	}
}

// Open is the pull path: user views the conversation with counterpart.
// Counterpart messages are marked delivered and read in one persisted batch,
// then at most one messages_delivered and one messages_read event go to the
// counterpart's room, in that order.
func (s *Service) Open(ctx context.Context, user, counterpart string) ([]*Message, error) {
	if user == "" {
		return nil, ErrNotAuthenticated
	}
	if counterpart == "" {
		return nil, &ValidationError{Field: "counterpart"}
	}

	res, err := s.store.Open(ctx, user, counterpart)
	if err != nil {
		return nil, err
	}

	if len(res.NewDelivered) > 0 {
		metrics.MessagesDelivered.Add(float64(len(res.NewDelivered)))
		s.broadcaster.Publish(counterpart, Event{Name: EventMessagesDelivered, Payload: IDsPayload{IDs: res.NewDelivered}})
	}
	if len(res.NewRead) > 0 {
		metrics.MessagesRead.Add(float64(len(res.NewRead)))
		s.broadcaster.Publish(counterpart, Event{Name: EventMessagesRead, Payload: IDsPayload{IDs: res.NewRead}})
	}

	return res.Messages, nil
}

// MarkRead marks every message in the conversation with counterpart as read
// by user and emits one batched messages_read event to the counterpart's
// room. Re-invoking on an already-read conversation is a no-op.
func (s *Service) MarkRead(ctx context.Context, user, counterpart string) error {
	if user == "" {
		return ErrNotAuthenticated
	}
	if counterpart == "" {
		return &ValidationError{Field: "sender"}
	}

	newlyRead, err := s.store.MarkRead(ctx, user, counterpart)
	if err != nil {
		return err
	}
	if len(newlyRead) > 0 {
		metrics.MessagesRead.Add(float64(len(newlyRead)))
		s.broadcaster.Publish(counterpart, Event{Name: EventMessagesRead, Payload: IDsPayload{IDs: newlyRead}})
	}
	return nil
}

// Typing forwards an ephemeral typing indicator to the receiver's room.
// Never persisted.
func (s *Service) Typing(sender, receiver string) {
	if sender == "" || receiver == "" {
		return
	}
	s.broadcaster.Publish(receiver, Event{Name: EventTyping, Payload: TypingPayload{Sender: sender}})
}

// StopTyping forwards the end of a typing indicator to the receiver's room.
func (s *Service) StopTyping(sender, receiver string) {
	if sender == "" || receiver == "" {
		return
	}
	s.broadcaster.Publish(receiver, Event{Name: EventStopTyping, Payload: TypingPayload{Sender: sender}})
}

// Summary is one row of the conversation list shown to a user.
type Summary struct {
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	LastMessage string    `json:"last_msg"`
	LastDate    time.Time `json:"last_date"`
	LastSender  string    `json:"last_sender,omitempty"`
	LastStatus  string    `json:"last_status,omitempty"`
	UnreadCount int       `json:"unread_count"`
}

// Summaries lists the user's conversations, most recent first. The derived
// status is only populated when the last message was sent by the requester,
// since only the sender sees delivery state.
func (s *Service) Summaries(ctx context.Context, user string) ([]*Summary, error) {
	if user == "" {
		return nil, ErrNotAuthenticated
	}

	convs, err := s.store.ForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	out := make([]*Summary, 0, len(convs))
	for _, conv := range convs {
		if len(conv.Messages) == 0 {
			continue
		}
		counterpart := conv.Counterpart(user)
		last := conv.Messages[len(conv.Messages)-1]

		sum := &Summary{
			Username:    counterpart,
			Avatar:      s.avatarFor(ctx, counterpart),
			LastMessage: last.Text,
			LastDate:    last.Date,
			LastSender:  last.Sender,
		}
		if last.Sender == user {
			sum.LastStatus = last.Status()
		}
		for _, m := range conv.Messages {
			if !m.ReadByContains(user) {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastDate.After(out[j].LastDate)
	})
	return out, nil
}

// DecorateHistory attaches sender avatars to a message log for client
// rendering. Resolution failures leave the message undecorated.
func (s *Service) DecorateHistory(ctx context.Context, msgs []*Message) []MessagePayload {
	avatars := make(map[string]string)
	out := make([]MessagePayload, len(msgs))
	for i, m := range msgs {
		avatar, ok := avatars[m.Sender]
		if !ok {
			avatar = s.avatarFor(ctx, m.Sender)
			avatars[m.Sender] = avatar
		}
		out[i] = MessagePayload{Message: m, Avatar: avatar}
	}
	return out
}

// avatarFor resolves a username's avatar reference; any failure yields "".
func (s *Service) avatarFor(ctx context.Context, username string) string {
	if s.profiles == nil {
		return ""
	}
	profile, err := s.profiles.ResolveProfile(ctx, username)
	if err != nil || profile == nil {
		return ""
	}
	return profile.AvatarRef
}
