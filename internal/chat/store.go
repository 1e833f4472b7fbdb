// ABOUTME: Conversation store: durable pair-of-identities -> ordered message log
// ABOUTME: Serializes every read-modify-write cycle through one writer mutex

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chronosbabu/serveurbabu/internal/docstore"
)

// messagesDoc is the docstore key holding the entire conversation collection.
const messagesDoc = "messages"

// Store owns the persisted conversation collection. Every mutation is a
// load-modify-save cycle over the whole document, serialized by mu so two
// concurrent appends can never be computed from the same snapshot. No
// network I/O happens while mu is held; event emission is the caller's job
// and always follows a successful save.
type Store struct {
	mu     sync.Mutex
	docs   docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a conversation store on top of a document store.
// Pass nil logger for default.
func NewStore(docs docstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:   docs,
		logger: logger.With("component", "chatstore"),
		now:    time.Now,
	}
}

// collection is the in-memory form of the messages document plus the
// order-independent pair index rebuilt on every load.
type collection struct {
	convs map[string]*Conversation
	index map[string]string // pairKey -> persisted conversation key
	dirty bool              // legacy records were backfilled during load
}

func (c *collection) lookup(a, b string) (string, *Conversation) {
	key, ok := c.index[pairKey(a, b)]
	if !ok {
		return "", nil
	}
	return key, c.convs[key]
}

// load reads and migrates the messages document. A missing document is an
// empty collection, not an error. Migration backfills legacy participants
// (recovered from the map key), missing message ids and missing sets; it is
// idempotent, and any backfill is persisted with the next save.
func (s *Store) load(ctx context.Context) (*collection, error) {
	col := &collection{
		convs: make(map[string]*Conversation),
		index: make(map[string]string),
	}

	data, err := s.docs.Load(ctx, messagesDoc)
	if err == docstore.ErrNotFound {
		return col, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	if err := json.Unmarshal(data, &col.convs); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}

	for key, conv := range col.convs {
		if conv.Participants[0] == "" && conv.Participants[1] == "" {
			parts, ok := legacyParticipants(key)
			if !ok {
				// Unreachable through lookups, but the record stays on disk
				// for operators to repair.
				s.logger.Warn("skipping conversation with unrecoverable key", "key", key)
				continue
			}
			conv.Participants = parts
			col.dirty = true
		}
		for _, m := range conv.Messages {
			if m.normalize() {
				col.dirty = true
			}
		}
		col.index[pairKey(conv.Participants[0], conv.Participants[1])] = key
	}

	return col, nil
}

func (s *Store) save(ctx context.Context, col *collection) error {
	data, err := json.Marshal(col.convs)
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := s.docs.Save(ctx, messagesDoc, data); err != nil {
		return fmt.Errorf("saving conversations: %w", err)
	}
	return nil
}

// Append appends a message from sender to receiver, creating the conversation
// on first contact. id may be a client-optimistic id; empty means generate.
// delivered marks the receiver as having received the message immediately
// (the caller consults presence before the append). The returned message is a
// copy owned by the caller.
func (s *Store) Append(ctx context.Context, sender, receiver, text, msgType string, url *string, id string, delivered bool) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.New().String()
	}

	msg := &Message{
		ID:          id,
		Sender:      sender,
		Text:        text,
		Type:        msgType,
		URL:         url,
		Date:        s.now().UTC(),
		ReadBy:      []string{sender},
		DeliveredTo: []string{},
	}
	if delivered {
		msg.DeliveredTo = append(msg.DeliveredTo, receiver)
	}

	key, conv := col.lookup(sender, receiver)
	if conv == nil {
		key = canonicalKey(sender, receiver)
		conv = &Conversation{Participants: [2]string{sender, receiver}}
		col.convs[key] = conv
		col.index[pairKey(sender, receiver)] = key
	}
	conv.Messages = append(conv.Messages, msg)

	if err := s.save(ctx, col); err != nil {
		return nil, err
	}
	return cloneMessage(msg), nil
}

// History returns the full ordered log between two identities. A pair with
// no conversation yet yields an empty slice.
func (s *Store) History(ctx context.Context, a, b string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.flushBackfill(ctx, col); err != nil {
		return nil, err
	}

	_, conv := col.lookup(a, b)
	if conv == nil {
		return []*Message{}, nil
	}
	return cloneMessages(conv.Messages), nil
}

// ForUser returns copies of every conversation containing user.
func (s *Store) ForUser(ctx context.Context, user string) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.flushBackfill(ctx, col); err != nil {
		return nil, err
	}

	var out []*Conversation
	for _, conv := range col.convs {
		if conv.Has(user) {
			out = append(out, &Conversation{
				Participants: conv.Participants,
				Messages:     cloneMessages(conv.Messages),
			})
		}
	}
	return out, nil
}

// MarkDeliveredAll marks every message addressed to user and not yet
// delivered as delivered, across all conversations, in one persisted batch.
// It returns newly delivered message ids grouped by counterpart. Used by
// reconnect reconciliation; running it twice is a no-op the second time.
func (s *Store) MarkDeliveredAll(ctx context.Context, user string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	newlyDelivered := make(map[string][]string)
	changed := col.dirty
	for _, conv := range col.convs {
		if !conv.Has(user) {
			continue
		}
		counterpart := conv.Counterpart(user)
		for _, m := range conv.Messages {
			if m.Sender == counterpart && !m.DeliveredToContains(user) {
				m.DeliveredTo = append(m.DeliveredTo, user)
				newlyDelivered[counterpart] = append(newlyDelivered[counterpart], m.ID)
				changed = true
			}
		}
	}

	if changed {
		if err := s.save(ctx, col); err != nil {
			return nil, err
		}
	}
	return newlyDelivered, nil
}

// OpenResult is the outcome of opening a conversation: the full decorated
// history plus the ids whose delivery/read state advanced in this pass.
type OpenResult struct {
	Messages     []*Message
	NewDelivered []string
	NewRead      []string
}

// Open is the pull path: user views the chat with counterpart. Every message
// from the counterpart is marked delivered and read in one persisted batch.
func (s *Store) Open(ctx context.Context, user, counterpart string) (*OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	res := &OpenResult{Messages: []*Message{}}

	_, conv := col.lookup(user, counterpart)
	if conv == nil {
		if err := s.flushBackfill(ctx, col); err != nil {
			return nil, err
		}
		return res, nil
	}

	changed := col.dirty
	for _, m := range conv.Messages {
		if m.Sender == user {
			continue
		}
		if !m.DeliveredToContains(user) {
			m.DeliveredTo = append(m.DeliveredTo, user)
			res.NewDelivered = append(res.NewDelivered, m.ID)
			changed = true
		}
		if !m.ReadByContains(user) {
			m.ReadBy = append(m.ReadBy, user)
			res.NewRead = append(res.NewRead, m.ID)
			changed = true
		}
	}

	if changed {
		if err := s.save(ctx, col); err != nil {
			return nil, err
		}
	}

	res.Messages = cloneMessages(conv.Messages)
	return res, nil
}

// MarkRead marks every message in the conversation not yet read by user as
// read, in one persisted batch, and returns the newly read ids. Re-marking
// an already-read conversation is a no-op.
func (s *Store) MarkRead(ctx context.Context, user, counterpart string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	_, conv := col.lookup(user, counterpart)
	if conv == nil {
		return nil, nil
	}

	var newlyRead []string
	changed := col.dirty
	for _, m := range conv.Messages {
		if !m.ReadByContains(user) {
			m.ReadBy = append(m.ReadBy, user)
			newlyRead = append(newlyRead, m.ID)
			changed = true
		}
	}

	if changed {
		if err := s.save(ctx, col); err != nil {
			return nil, err
		}
	}
	return newlyRead, nil
}

// flushBackfill persists legacy-record backfill performed during load so the
// migration happens once, not on every access.
func (s *Store) flushBackfill(ctx context.Context, col *collection) error {
	if !col.dirty {
		return nil
	}
	if err := s.save(ctx, col); err != nil {
		return err
	}
	col.dirty = false
	s.logger.Info("migrated legacy message records")
	return nil
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.DeliveredTo = append([]string(nil), m.DeliveredTo...)
	return &out
}

func cloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}
