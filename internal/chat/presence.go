// ABOUTME: Connection-counted presence registry for connected identities
// ABOUTME: A user is online while at least one live connection remains

package chat

import "sync"

// PresenceRegistry tracks how many live connections each identity holds.
// Counting connections (rather than a boolean) means closing one browser tab
// does not mark a user offline while other tabs remain open. The registry has
// its own lock: connect/disconnect is orthogonal to message content.
type PresenceRegistry struct {
	mu    sync.RWMutex
	conns map[string]int
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{conns: make(map[string]int)}
}

// Connect registers one more connection for identity. It returns true when
// this is the identity's first live connection (the online transition).
func (p *PresenceRegistry) Connect(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[identity]++
	return p.conns[identity] == 1
}

// Disconnect unregisters one connection for identity. It returns true when
// no live connections remain (the offline transition). Disconnecting an
// unknown identity is a no-op.
func (p *PresenceRegistry) Disconnect(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.conns[identity]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.conns, identity)
		return true
	}
	p.conns[identity] = n - 1
	return false
}

// IsPresent reports whether identity has at least one live connection.
func (p *PresenceRegistry) IsPresent(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[identity] > 0
}

// Connected returns a snapshot of all currently connected identities.
func (p *PresenceRegistry) Connected() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	return out
}
