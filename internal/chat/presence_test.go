// ABOUTME: Tests for the connection-counted presence registry
// ABOUTME: Multiple tabs per user must not cause spurious offline transitions

package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresence_FirstConnectIsOnlineTransition(t *testing.T) {
	p := NewPresenceRegistry()

	assert.True(t, p.Connect("alice"))
	assert.True(t, p.IsPresent("alice"))

	// Second tab: still online, no transition.
	assert.False(t, p.Connect("alice"))
}

func TestPresence_LastDisconnectIsOfflineTransition(t *testing.T) {
	p := NewPresenceRegistry()
	p.Connect("alice")
	p.Connect("alice")

	// Closing one of two tabs keeps the user online.
	assert.False(t, p.Disconnect("alice"))
	assert.True(t, p.IsPresent("alice"))

	assert.True(t, p.Disconnect("alice"))
	assert.False(t, p.IsPresent("alice"))
}

func TestPresence_DisconnectUnknownIsNoop(t *testing.T) {
	p := NewPresenceRegistry()
	assert.False(t, p.Disconnect("ghost"))
	assert.False(t, p.IsPresent("ghost"))
}

func TestPresence_Connected(t *testing.T) {
	p := NewPresenceRegistry()
	p.Connect("alice")
	p.Connect("bob")
	p.Connect("bob")

	assert.ElementsMatch(t, []string{"alice", "bob"}, p.Connected())
}

func TestPresence_ConcurrentConnectDisconnect(t *testing.T) {
	p := NewPresenceRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Connect("alice")
			p.Disconnect("alice")
		}()
	}
	wg.Wait()

	assert.False(t, p.IsPresent("alice"))
}
