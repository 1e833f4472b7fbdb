// ABOUTME: Tests for message schema, legacy migration helpers and derived status
// ABOUTME: Covers normalize idempotence and file-type inference

package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_StatusDerivation(t *testing.T) {
	tests := []struct {
		name        string
		readBy      []string
		deliveredTo []string
		want        string
	}{
		{"fresh message", []string{"alice"}, []string{}, StatusSent},
		{"delivered not read", []string{"alice"}, []string{"bob"}, StatusDelivered},
		{"read", []string{"alice", "bob"}, []string{"bob"}, StatusRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Sender: "alice", ReadBy: tt.readBy, DeliveredTo: tt.deliveredTo}
			assert.Equal(t, tt.want, m.Status())
		})
	}
}

func TestMessage_NormalizeBackfillsDefaults(t *testing.T) {
	m := &Message{Sender: "alice", Text: "hi"}

	changed := m.normalize()

	assert.True(t, changed)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, MessageTypeText, m.Type)
	assert.NotNil(t, m.DeliveredTo)
	assert.NotNil(t, m.ReadBy)
}

func TestMessage_NormalizeIsIdempotent(t *testing.T) {
	m := &Message{Sender: "alice", Text: "hi"}
	require.True(t, m.normalize())

	id := m.ID
	assert.False(t, m.normalize())
	assert.Equal(t, id, m.ID)
}

func TestMessage_JSONShape(t *testing.T) {
	m := &Message{
		ID:          "m1",
		Sender:      "alice",
		Text:        "hi",
		Type:        MessageTypeText,
		Date:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ReadBy:      []string{"alice"},
		DeliveredTo: []string{},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	// url must serialize as an explicit null for text messages.
	assert.JSONEq(t, `{
		"id": "m1",
		"sender": "alice",
		"text": "hi",
		"type": "text",
		"url": null,
		"date": "2025-06-01T12:00:00Z",
		"read_by": ["alice"],
		"delivered_to": []
	}`, string(data))
}

func TestConversation_UnmarshalLegacyArray(t *testing.T) {
	var conv Conversation
	err := json.Unmarshal([]byte(`[{"sender":"alice","text":"hi","read_by":["alice"]}]`), &conv)
	require.NoError(t, err)

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "alice", conv.Messages[0].Sender)
	assert.Equal(t, [2]string{}, conv.Participants)
}

func TestConversation_UnmarshalCurrentObject(t *testing.T) {
	var conv Conversation
	err := json.Unmarshal([]byte(`{"participants":["alice","bob"],"messages":[]}`), &conv)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"alice", "bob"}, conv.Participants)
}

func TestConversation_Counterpart(t *testing.T) {
	conv := &Conversation{Participants: [2]string{"alice", "bob"}}
	assert.Equal(t, "bob", conv.Counterpart("alice"))
	assert.Equal(t, "alice", conv.Counterpart("bob"))
	assert.Equal(t, "", conv.Counterpart("carol"))
}

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, pairKey("alice", "bob"), pairKey("bob", "alice"))
	assert.NotEqual(t, pairKey("alice", "bob"), pairKey("alice", "carol"))
}

func TestLegacyParticipants(t *testing.T) {
	parts, ok := legacyParticipants("alice_bob")
	require.True(t, ok)
	assert.Equal(t, [2]string{"alice", "bob"}, parts)

	// Splitting happens at the first underscore, matching how legacy keys
	// were built.
	parts, ok = legacyParticipants("alice_bob_smith")
	require.True(t, ok)
	assert.Equal(t, [2]string{"alice", "bob_smith"}, parts)

	_, ok = legacyParticipants("nounderscore")
	assert.False(t, ok)
}

func TestTypeForFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"photo.JPG", MessageTypeImage},
		{"photo.png", MessageTypeImage},
		{"clip.mp4", MessageTypeVideo},
		{"voice.ogg", MessageTypeAudio},
		{"voice.webm", MessageTypeAudio},
		{"doc.pdf", MessageTypeOther},
		{"noext", MessageTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeForFilename(tt.filename), tt.filename)
	}
}
