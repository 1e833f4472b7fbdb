// ABOUTME: Tests for the websocket hub and per-connection client loops
// ABOUTME: Dials real sockets against an httptest server and exchanges frames

package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chronosbabu/serveurbabu/internal/auth"
	"github.com/Chronosbabu/serveurbabu/internal/chat"
	"github.com/Chronosbabu/serveurbabu/internal/docstore"
	"github.com/Chronosbabu/serveurbabu/internal/identity"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T) *httptest.Server {
	t.Helper()
	store := chat.NewStore(docstore.NewMemoryStore(), nil)
	svc := chat.NewService(store, chat.NewPresenceRegistry(), chat.NewRoomBroadcaster(nil), identity.StaticResolver{}, nil)
	srv := httptest.NewServer(NewHub(svc, auth.Static{}, nil))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"X-Username": []string{username}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one matching name arrives or the deadline hits.
func readEvent(t *testing.T, conn *websocket.Conn, name string) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %q", name)
		if ev.Event == name {
			return ev
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wireEvent{Event: event, Data: raw}))
}

func TestHubRejectsUnauthenticated(t *testing.T) {
	srv := newTestHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubAnnouncesPresence(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	readEvent(t, alice, "user_online")

	bob := dial(t, srv, "bob")
	readEvent(t, bob, "user_online")

	// Alice sees bob come online through the global broadcast.
	ev := readEvent(t, alice, "user_online")
	var d struct {
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &d))
	// First user_online on alice's socket was her own.
	if d.Username != "bob" {
		ev = readEvent(t, alice, "user_online")
		require.NoError(t, json.Unmarshal(ev.Data, &d))
	}
	assert.Equal(t, "bob", d.Username)
}

func TestHubDeliversMessages(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	// Bob's own user_online proves his session is registered before alice sends.
	readEvent(t, bob, "user_online")
	sendFrame(t, alice, "send_message", sendMessageData{Receiver: "bob", Text: "salut"})

	ev := readEvent(t, bob, "new_message")
	var msg struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "salut", msg.Text)

	// Bob is connected, so the sender gets the delivery receipt.
	readEvent(t, alice, "message_delivered")
}

func TestHubReportsSendErrors(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	sendFrame(t, alice, "send_message", sendMessageData{Receiver: "alice", Text: "moi"})

	ev := readEvent(t, alice, "error")
	var d errorData
	require.NoError(t, json.Unmarshal(ev.Data, &d))
	assert.NotEmpty(t, d.Error)
}

func TestHubTypingRelay(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	readEvent(t, alice, "user_online")
	readEvent(t, bob, "user_online")

	sendFrame(t, alice, "typing", typingData{Receiver: "bob"})
	ev := readEvent(t, bob, "typing")
	var d struct {
		Sender string `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &d))
	assert.Equal(t, "alice", d.Sender)

	sendFrame(t, alice, "stop_typing", typingData{Receiver: "bob"})
	readEvent(t, bob, "stop_typing")
}

func TestHubReconciliationOnConnect(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	sendFrame(t, alice, "send_message", sendMessageData{Receiver: "bob", Text: "un"})
	sendFrame(t, alice, "send_message", sendMessageData{Receiver: "bob", Text: "deux"})
	readEvent(t, alice, "new_message")
	readEvent(t, alice, "new_message")

	// Bob connects after the fact; alice gets one batched receipt.
	dial(t, srv, "bob")
	ev := readEvent(t, alice, "messages_delivered")
	var d struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &d))
	assert.Len(t, d.IDs, 2)
}

func TestHubJoinRestrictedToOwnRoom(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	eve := dial(t, srv, "eve")
	readEvent(t, alice, "user_online")
	readEvent(t, bob, "user_online")
	readEvent(t, eve, "user_online")

	// Eve tries to sit in bob's room.
	sendFrame(t, eve, "join", joinData{Room: "bob"})
	ev := readEvent(t, eve, "error")
	var d errorData
	require.NoError(t, json.Unmarshal(ev.Data, &d))
	assert.NotEmpty(t, d.Error)

	// Re-joining her own room stays allowed and the session stays usable.
	sendFrame(t, eve, "join", joinData{Room: "eve"})
	sendFrame(t, bob, "typing", typingData{Receiver: "eve"})
	readEvent(t, eve, "typing")

	sendFrame(t, alice, "send_message", sendMessageData{Receiver: "bob", Text: "entre nous"})
	readEvent(t, bob, "new_message")

	// Eve's socket sees presence chatter at most, never the message.
	eve.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var got wireEvent
		if err := eve.ReadJSON(&got); err != nil {
			break
		}
		require.NotEqual(t, "new_message", got.Event, "leaked message into eve's session")
	}
}

func TestHubMalformedFramesIgnored(t *testing.T) {
	srv := newTestHub(t)

	alice := dial(t, srv, "alice")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"wat","data":{}}`)))

	// The session stays usable: a typing relay to her own room still lands.
	sendFrame(t, alice, "typing", typingData{Receiver: "alice"})
	readEvent(t, alice, "typing")
}
