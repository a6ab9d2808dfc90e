// Package presence keeps the process-wide set of connected display names.
// The state is in-memory only and rebuilt from scratch on restart.
package presence

import "sync"

// Tracker maps live connection ids to display names. It is owned by the hub
// and mutated only on join/leave events. Snapshots intentionally keep
// duplicate display names, two connections may share a name.
type Tracker struct {
	names map[string]string

	sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{names: make(map[string]string)}
}

// Join upserts the display name for a connection id. A repeated join for the
// same id overwrites the name (reconnection with a refreshed name).
func (t *Tracker) Join(connId, displayName string) {
	t.Lock()
	defer t.Unlock()
	t.names[connId] = displayName
}

// Leave removes the entry, no-op if the id is unknown.
func (t *Tracker) Leave(connId string) {
	t.Lock()
	defer t.Unlock()
	delete(t.names, connId)
}

// Snapshot returns all current display names, in no particular order.
func (t *Tracker) Snapshot() []string {
	t.RLock()
	defer t.RUnlock()
	names := make([]string, 0, len(t.names))
	for _, name := range t.names {
		names = append(names, name)
	}
	return names
}

// Count returns the number of live connections.
func (t *Tracker) Count() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.names)
}
