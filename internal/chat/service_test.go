// ABOUTME: End-to-end tests for the messaging service and delivery state machine
// ABOUTME: Exercises send, presence, reconnect reconciliation, open and mark-read

package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chronosbabu/serveurbabu/internal/docstore"
	"github.com/Chronosbabu/serveurbabu/internal/identity"
)

type serviceFixture struct {
	svc         *Service
	docs        *docstore.MemoryStore
	broadcaster *RoomBroadcaster
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	docs := docstore.NewMemoryStore()
	b := NewRoomBroadcaster(testLogger())
	t.Cleanup(b.Close)

	// Strictly increasing clock so summary ordering is deterministic even
	// when two sends land within the same wall-clock tick.
	st := NewStore(docs, testLogger())
	base := time.Now()
	var tick time.Duration
	st.now = func() time.Time {
		tick += time.Millisecond
		return base.Add(tick)
	}

	svc := NewService(
		st,
		NewPresenceRegistry(),
		b,
		identity.StaticResolver{"alice": "alice.png"},
		testLogger(),
	)
	return &serviceFixture{svc: svc, docs: docs, broadcaster: b}
}

// drainUntil receives events until one matches name, failing after a timeout.
func drainUntil(t *testing.T, ch <-chan Event, name string) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event, name string) {
	t.Helper()
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				t.Fatalf("unexpected %s event: %+v", name, ev.Payload)
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestService_SendValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "", "bob", "hi", "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.SendText(ctx, "alice", "", "hi", "")
	assert.True(t, IsValidation(err))

	_, err = f.svc.SendText(ctx, "alice", "bob", "", "")
	assert.True(t, IsValidation(err))

	_, err = f.svc.SendText(ctx, "alice", "alice", "hi", "")
	assert.True(t, IsValidation(err))

	// Nothing was persisted by the rejected requests.
	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_SendToOfflineRecipient(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	aliceCh, _ := f.broadcaster.Subscribe(ctx, "alice")

	msg, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, msg.Status())

	ev := drainUntil(t, aliceCh, EventNewMessage)
	payload, ok := ev.Payload.(MessagePayload)
	require.True(t, ok)
	assert.Equal(t, msg.ID, payload.ID)
	assert.Equal(t, "alice.png", payload.Avatar)

	assertNoEvent(t, aliceCh, EventMessageDelivered)
}

func TestService_SendToPresentRecipientDeliversImmediately(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Connect(ctx, "bob"))
	aliceCh, _ := f.broadcaster.Subscribe(ctx, "alice")
	bobCh, _ := f.broadcaster.Subscribe(ctx, "bob")

	msg, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"bob"}, msg.DeliveredTo, "delivered without reconciliation")
	assert.Equal(t, StatusDelivered, msg.Status())

	drainUntil(t, bobCh, EventNewMessage)
	ev := drainUntil(t, aliceCh, EventMessageDelivered)
	assert.Equal(t, IDPayload{ID: msg.ID}, ev.Payload)
}

func TestService_ClientOptimisticIDRoundTrips(t *testing.T) {
	f := newServiceFixture(t)

	msg, err := f.svc.SendText(context.Background(), "alice", "bob", "hi", "optimistic-1")
	require.NoError(t, err)
	assert.Equal(t, "optimistic-1", msg.ID)
}

func TestService_OfflineThenConnectThenOpen(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	aliceCh, _ := f.broadcaster.Subscribe(ctx, "alice")

	// A sends "hi" to B (offline) -> status sent.
	msg, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, msg.Status())

	// B connects -> status delivered, A receives messages_delivered:[id].
	require.NoError(t, f.svc.Connect(ctx, "bob"))
	ev := drainUntil(t, aliceCh, EventMessagesDelivered)
	assert.Equal(t, IDsPayload{IDs: []string{msg.ID}}, ev.Payload)

	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, history[0].Status())

	// B opens the chat -> status read, A receives messages_read:[id].
	_, err = f.svc.Open(ctx, "bob", "alice")
	require.NoError(t, err)
	ev = drainUntil(t, aliceCh, EventMessagesRead)
	assert.Equal(t, IDsPayload{IDs: []string{msg.ID}}, ev.Payload)

	history, err = f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusRead, history[0].Status())
}

func TestService_SecondConnectProducesNoDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	aliceCh, _ := f.broadcaster.Subscribe(ctx, "alice")

	msg, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Connect(ctx, "bob"))
	drainUntil(t, aliceCh, EventMessagesDelivered)

	// Second tab: no duplicate delivery entry, no duplicate event.
	require.NoError(t, f.svc.Connect(ctx, "bob"))
	assertNoEvent(t, aliceCh, EventMessagesDelivered)

	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, []string{"bob"}, history[0].DeliveredTo)
}

func TestService_TwoMessagesWhileOnlinePreserveOrder(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Connect(ctx, "bob"))

	m1, err := f.svc.SendText(ctx, "alice", "bob", "first", "")
	require.NoError(t, err)
	m2, err := f.svc.SendText(ctx, "alice", "bob", "second", "")
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, m1.Status())
	assert.Equal(t, StatusDelivered, m2.Status())

	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "second", history[1].Text)
}

func TestService_PresenceTransitionsBroadcastGlobally(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	carolCh, _ := f.broadcaster.Subscribe(ctx, "carol")

	require.NoError(t, f.svc.Connect(ctx, "bob"))
	ev := drainUntil(t, carolCh, EventUserOnline)
	assert.Equal(t, UserPayload{Username: "bob"}, ev.Payload)

	// A second tab produces no second online event.
	require.NoError(t, f.svc.Connect(ctx, "bob"))
	assertNoEvent(t, carolCh, EventUserOnline)

	// Closing one tab of two keeps bob online.
	f.svc.Disconnect("bob")
	assertNoEvent(t, carolCh, EventUserOffline)

	f.svc.Disconnect("bob")
	ev = drainUntil(t, carolCh, EventUserOffline)
	assert.Equal(t, UserPayload{Username: "bob"}, ev.Payload)
}

func TestService_MarkReadBatchesAndIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	aliceCh, _ := f.broadcaster.Subscribe(ctx, "alice")

	m1, err := f.svc.SendText(ctx, "alice", "bob", "one", "")
	require.NoError(t, err)
	m2, err := f.svc.SendText(ctx, "alice", "bob", "two", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, "bob", "alice"))
	ev := drainUntil(t, aliceCh, EventMessagesRead)
	assert.Equal(t, IDsPayload{IDs: []string{m1.ID, m2.ID}}, ev.Payload,
		"one batched event listing all newly-read ids")

	require.NoError(t, f.svc.MarkRead(ctx, "bob", "alice"))
	assertNoEvent(t, aliceCh, EventMessagesRead)
}

func TestService_SendFile(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendFile(ctx, "alice", "bob", "sunset.jpg", "/uploads/sunset.jpg")
	require.NoError(t, err)

	assert.Equal(t, MessageTypeImage, msg.Type)
	assert.Equal(t, "[image]: sunset.jpg", msg.Text)
	require.NotNil(t, msg.URL)
	assert.Equal(t, "/uploads/sunset.jpg", *msg.URL)
}

func TestService_SendFileValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendFile(ctx, "alice", "bob", "", "/u/x")
	assert.True(t, IsValidation(err))
	_, err = f.svc.SendFile(ctx, "alice", "", "x.png", "/u/x")
	assert.True(t, IsValidation(err))
}

func TestService_PersistenceFailureEmitsNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bobCh, _ := f.broadcaster.Subscribe(ctx, "bob")
	f.docs.FailSaves = fmt.Errorf("disk full")

	_, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.Error(t, err)

	assertNoEvent(t, bobCh, EventNewMessage)
}

func TestService_TypingIsEphemeral(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bobCh, _ := f.broadcaster.Subscribe(ctx, "bob")

	f.svc.Typing("alice", "bob")
	ev := drainUntil(t, bobCh, EventTyping)
	assert.Equal(t, TypingPayload{Sender: "alice"}, ev.Payload)

	f.svc.StopTyping("alice", "bob")
	ev = drainUntil(t, bobCh, EventStopTyping)
	assert.Equal(t, TypingPayload{Sender: "alice"}, ev.Payload)

	// Typing indicators never touch the log.
	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_Summaries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "alice", "bob", "to bob", "")
	require.NoError(t, err)
	_, err = f.svc.SendText(ctx, "carol", "alice", "from carol", "")
	require.NoError(t, err)

	sums, err := f.svc.Summaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sums, 2)

	// Most recent conversation first.
	assert.Equal(t, "carol", sums[0].Username)
	assert.Equal(t, "from carol", sums[0].LastMessage)
	assert.Equal(t, 1, sums[0].UnreadCount, "carol's message is unread by alice")
	assert.Empty(t, sums[0].LastStatus, "status only shown for own messages")

	assert.Equal(t, "bob", sums[1].Username)
	assert.Equal(t, StatusSent, sums[1].LastStatus)
	assert.Equal(t, 0, sums[1].UnreadCount)
}

func TestService_SummariesReflectStatusProgression(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)

	status := func() string {
		sums, err := f.svc.Summaries(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, sums, 1)
		return sums[0].LastStatus
	}

	assert.Equal(t, StatusSent, status())

	require.NoError(t, f.svc.Connect(ctx, "bob"))
	assert.Equal(t, StatusDelivered, status())

	_, err = f.svc.Open(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusRead, status())
}

func TestService_DecorateHistory(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "alice", "bob", "hi", "")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, "alice", "bob")
	require.NoError(t, err)

	decorated := f.svc.DecorateHistory(ctx, history)
	require.Len(t, decorated, 1)
	assert.Equal(t, "alice.png", decorated[0].Avatar)
}
