// ABOUTME: Message and Conversation types with the persisted JSON schema
// ABOUTME: Handles legacy-record migration and derived per-message status

package chat

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType constants for message content kinds.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeOther = "other"
)

// Derived per-conversation status values shown to the sender.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message is a single direct message. ReadBy and DeliveredTo only ever grow
// over a message's lifetime; a message is never edited or deleted.
type Message struct {
	ID          string    `json:"id"`
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	Type        string    `json:"type"`
	URL         *string   `json:"url"`
	Date        time.Time `json:"date"`
	ReadBy      []string  `json:"read_by"`
	DeliveredTo []string  `json:"delivered_to"`
}

// Status derives the delivery state shown to the sender: read when anyone
// besides the sender has read it, delivered when anyone has received it,
// otherwise sent.
func (m *Message) Status() string {
	if len(m.ReadBy) > 1 {
		return StatusRead
	}
	if len(m.DeliveredTo) > 0 {
		return StatusDelivered
	}
	return StatusSent
}

// DeliveredToContains reports whether user is already in the delivered set.
func (m *Message) DeliveredToContains(user string) bool {
	return contains(m.DeliveredTo, user)
}

// ReadByContains reports whether user is already in the read set.
func (m *Message) ReadByContains(user string) bool {
	return contains(m.ReadBy, user)
}

// normalize backfills defaults onto records written by older versions of the
// server: a missing id gets a fresh UUID, nil sets become empty slices.
// Idempotent and safe to repeat. Returns true if anything changed.
func (m *Message) normalize() bool {
	changed := false
	if m.ID == "" {
		m.ID = uuid.New().String()
		changed = true
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = []string{}
		changed = true
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
		changed = true
	}
	if m.Type == "" {
		m.Type = MessageTypeText
		changed = true
	}
	return changed
}

func contains(set []string, user string) bool {
	for _, s := range set {
		if s == user {
			return true
		}
	}
	return false
}

// Conversation is the ordered message history between exactly two identities
// under one canonical key.
type Conversation struct {
	Participants [2]string  `json:"participants"`
	Messages     []*Message `json:"messages"`
}

// Counterpart returns the other participant, or "" if user is not one of them.
func (c *Conversation) Counterpart(user string) string {
	switch user {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Has reports whether user participates in the conversation.
func (c *Conversation) Has(user string) bool {
	return user == c.Participants[0] || user == c.Participants[1]
}

// UnmarshalJSON accepts both the current object form and the legacy form
// where a conversation was a bare message array keyed by "sender_receiver".
// Legacy participants are recovered by the caller from the map key.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &c.Messages)
	}
	type alias Conversation
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Conversation(a)
	return nil
}

// pairKey builds the order-independent lookup key for two identities.
// It is used only for in-memory indexing, never persisted.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// canonicalKey assigns the persisted key for a brand-new conversation.
// Existing conversations keep whatever key they were first written under.
func canonicalKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// legacyParticipants recovers a participant pair from a legacy map key by
// splitting at the first underscore, matching how those keys were built.
func legacyParticipants(key string) ([2]string, bool) {
	i := strings.Index(key, "_")
	if i <= 0 || i == len(key)-1 {
		return [2]string{}, false
	}
	return [2]string{key[:i], key[i+1:]}, true
}

// TypeForFilename infers a message type from a file reference's extension.
func TypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return MessageTypeImage
	case ".mp4", ".mov", ".avi":
		return MessageTypeVideo
	case ".mp3", ".wav", ".ogg", ".m4a", ".webm":
		return MessageTypeAudio
	}
	return MessageTypeOther
}
