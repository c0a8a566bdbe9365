// Package presence tracks which identified users are currently connected.
package presence

import "sync"

type entry struct {
	name  string
	owner string
}

// Registry maps user ids to display names. One entry per user id; the last
// join wins.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Join inserts or replaces the entry for userID.
func (r *Registry) Join(userID, displayName string) {
	r.JoinAs(userID, displayName, "")
}

// JoinAs is Join recording which connection owns the entry, so a stale
// connection of the same user cannot remove it later via LeaveAs.
func (r *Registry) JoinAs(userID, displayName, owner string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	r.entries[userID] = entry{name: displayName, owner: owner}
	r.mu.Unlock()
}

// Leave removes the entry for userID. Absent ids are ignored.
func (r *Registry) Leave(userID string) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// LeaveAs removes the entry only while owner still holds it.
// It reports whether an entry was removed.
func (r *Registry) LeaveAs(userID, owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.owner != owner {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Snapshot returns a point-in-time copy of user id -> display name.
// The returned map belongs to the caller.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.name
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
