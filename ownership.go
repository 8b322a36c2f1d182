package mcs

import "sync"

// ownershipMap is the routing table from media id to the client connection
// that created it. Reads and writes are linearizable per key; register has
// atomic check-and-insert semantics so "at most one owner per media id" holds
// under concurrent publishes.
type ownershipMap struct {
	mu     sync.RWMutex
	owners map[string]ClientConnection
}

func newOwnershipMap() *ownershipMap {
	return &ownershipMap{
		owners: make(map[string]ClientConnection),
	}
}

func (m *ownershipMap) register(mediaID string, client ClientConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.owners[mediaID]; ok && owner.ID() != client.ID() {
		return NewInvalidStateError("media %s is already owned by client %d", mediaID, owner.ID())
	}
	m.owners[mediaID] = client

	return nil
}

func (m *ownershipMap) lookup(mediaID string) (ClientConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[mediaID]
	return owner, ok
}

func (m *ownershipMap) remove(mediaID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.owners, mediaID)
}

// removeClient drops every entry owned by the given client, returning the
// media ids that were removed.
func (m *ownershipMap) removeClient(client ClientConnection) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for mediaID, owner := range m.owners {
		if owner.ID() == client.ID() {
			delete(m.owners, mediaID)
			removed = append(removed, mediaID)
		}
	}
	return removed
}

func (m *ownershipMap) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.owners)
}
