// Package state holds the per-process L1 cache and the connection registry
// mapping sessions to users and lists.
package state

import (
	"strconv"
	"sync"

	"github.com/yongtao-wang/collab-todo/internal/model"
)

// Manager owns the L1 cache and the local connection registry. Both are
// guarded by a single mutex each; critical sections are bounded by the size
// of one list entry or one session's subscription set.
type Manager struct {
	mu    sync.Mutex
	cache map[string]model.ListCacheEntry

	connMu      sync.Mutex
	sessionUser map[string]string            // session_id -> user_id
	listSubs    map[string]map[string]struct{} // list_id -> set(session_id)
	sessionSubs map[string]map[string]struct{} // session_id -> set(list_id)
}

// New constructs an empty state manager.
func New() *Manager {
	return &Manager{
		cache:       make(map[string]model.ListCacheEntry),
		sessionUser: make(map[string]string),
		listSubs:    make(map[string]map[string]struct{}),
		sessionSubs: make(map[string]map[string]struct{}),
	}
}

// GetCache returns the L1 entry for listID, if present.
func (m *Manager) GetCache(listID string) (model.ListCacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[listID]
	if !ok {
		return model.ListCacheEntry{}, false
	}
	return e.Clone(), true
}

// PutCache stores/overwrites the L1 entry for a list.
func (m *Manager) PutCache(entry model.ListCacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[entry.ListID] = entry.Clone()
}

// DropCache evicts a list's L1 entry. Eviction never deletes durable data.
func (m *Manager) DropCache(listID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, listID)
}

// ListIDs returns every list id currently cached in L1.
func (m *Manager) ListIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.cache))
	for id := range m.cache {
		out = append(out, id)
	}
	return out
}

// DropAllCache evicts every L1 entry, used by /cache/flush.
func (m *Manager) DropAllCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]model.ListCacheEntry)
}

// CacheSummary reports list ids and item counts, for /cache.
type CacheSummary struct {
	ListID string `json:"list_id"`
	Items  int    `json:"items"`
	Rev    string `json:"rev"`
}

func (m *Manager) CacheSnapshotSummary() []CacheSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CacheSummary, 0, len(m.cache))
	for id, e := range m.cache {
		out = append(out, CacheSummary{ListID: id, Items: len(e.Items), Rev: strconv.FormatFloat(e.Rev, 'f', 6, 64)})
	}
	return out
}

// AddConnection registers a new session for a user.
func (m *Manager) AddConnection(sessionID, userID string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.sessionUser[sessionID] = userID
	m.sessionSubs[sessionID] = make(map[string]struct{})
}

// RemoveConnection tears down a session's registry entries. Callers must
// still call UnsubscribeAll to clean up list subscription sets;
// UnsubscribeAll alone does both.
func (m *Manager) RemoveConnection(sessionID string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	delete(m.sessionUser, sessionID)
}

// UserForSession returns the user bound to a session.
func (m *Manager) UserForSession(sessionID string) (string, bool) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	u, ok := m.sessionUser[sessionID]
	return u, ok
}

// SessionsForUser returns every session currently bound to userID on this
// node, used to deliver list_shared_with_you regardless of list
// subscription.
func (m *Manager) SessionsForUser(userID string) []string {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	var out []string
	for sessionID, u := range m.sessionUser {
		if u == userID {
			out = append(out, sessionID)
		}
	}
	return out
}

// Subscribe adds sessionID to listID's subscriber set.
func (m *Manager) Subscribe(sessionID, listID string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.listSubs[listID] == nil {
		m.listSubs[listID] = make(map[string]struct{})
	}
	m.listSubs[listID][sessionID] = struct{}{}
	if m.sessionSubs[sessionID] == nil {
		m.sessionSubs[sessionID] = make(map[string]struct{})
	}
	m.sessionSubs[sessionID][listID] = struct{}{}
}

// UnsubscribeAll removes a session from every list it was subscribed to,
// called on socket disconnection.
func (m *Manager) UnsubscribeAll(sessionID string) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	for listID := range m.sessionSubs[sessionID] {
		delete(m.listSubs[listID], sessionID)
		if len(m.listSubs[listID]) == 0 {
			delete(m.listSubs, listID)
		}
	}
	delete(m.sessionSubs, sessionID)
	delete(m.sessionUser, sessionID)
}

// SessionsForList returns the session ids currently subscribed to a list on
// this node.
func (m *Manager) SessionsForList(listID string) []string {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	subs := m.listSubs[listID]
	out := make([]string, 0, len(subs))
	for s := range subs {
		out = append(out, s)
	}
	return out
}

// RoomCounts reports subscriber counts per list, for /rooms.
func (m *Manager) RoomCounts() map[string]int {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	out := make(map[string]int, len(m.listSubs))
	for listID, subs := range m.listSubs {
		out[listID] = len(subs)
	}
	return out
}

// ConnectionCount reports the number of registered sessions, for /health.
func (m *Manager) ConnectionCount() int {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return len(m.sessionUser)
}
