package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yongtao-wang/collab-todo/internal/model"
)

func TestCachePutGetDrop(t *testing.T) {
	m := New()
	_, ok := m.GetCache("l1")
	assert.False(t, ok)

	m.PutCache(model.ListCacheEntry{ListID: "l1", Rev: 5, Items: map[string]model.TodoItem{}})
	entry, ok := m.GetCache("l1")
	assert.True(t, ok)
	assert.Equal(t, float64(5), entry.Rev)

	m.DropCache("l1")
	_, ok = m.GetCache("l1")
	assert.False(t, ok)
}

func TestGetCacheReturnsIndependentCopy(t *testing.T) {
	m := New()
	m.PutCache(model.ListCacheEntry{ListID: "l1", Items: map[string]model.TodoItem{"a": {ItemID: "a"}}})

	entry, _ := m.GetCache("l1")
	entry.Items["a"] = model.TodoItem{ItemID: "a", Name: "mutated"}

	fresh, _ := m.GetCache("l1")
	assert.Empty(t, fresh.Items["a"].Name)
}

func TestConnectionRegistrySubscriptions(t *testing.T) {
	m := New()
	m.AddConnection("s1", "u1")
	m.AddConnection("s2", "u2")

	m.Subscribe("s1", "l1")
	m.Subscribe("s2", "l1")
	m.Subscribe("s1", "l2")

	assert.ElementsMatch(t, []string{"s1", "s2"}, m.SessionsForList("l1"))
	assert.ElementsMatch(t, []string{"s1"}, m.SessionsForList("l2"))
	assert.Equal(t, 2, m.ConnectionCount())

	user, ok := m.UserForSession("s1")
	assert.True(t, ok)
	assert.Equal(t, "u1", user)

	m.UnsubscribeAll("s1")
	assert.ElementsMatch(t, []string{"s2"}, m.SessionsForList("l1"))
	assert.ElementsMatch(t, []string{}, m.SessionsForList("l2"))
	_, ok = m.UserForSession("s1")
	assert.False(t, ok)
}

func TestSessionsForUser(t *testing.T) {
	m := New()
	m.AddConnection("s1", "u1")
	m.AddConnection("s2", "u1")
	m.AddConnection("s3", "u2")

	assert.ElementsMatch(t, []string{"s1", "s2"}, m.SessionsForUser("u1"))
	assert.ElementsMatch(t, []string{"s3"}, m.SessionsForUser("u2"))
}

func TestRoomCountsAndCacheSummary(t *testing.T) {
	m := New()
	m.PutCache(model.ListCacheEntry{ListID: "l1", Items: map[string]model.TodoItem{"a": {}, "b": {}}})
	m.AddConnection("s1", "u1")
	m.Subscribe("s1", "l1")

	counts := m.RoomCounts()
	assert.Equal(t, 1, counts["l1"])

	summary := m.CacheSnapshotSummary()
	assert.Len(t, summary, 1)
	assert.Equal(t, 2, summary[0].Items)
}

func TestDropAllCacheAndListIDs(t *testing.T) {
	m := New()
	m.PutCache(model.ListCacheEntry{ListID: "l1"})
	m.PutCache(model.ListCacheEntry{ListID: "l2"})
	assert.ElementsMatch(t, []string{"l1", "l2"}, m.ListIDs())

	m.DropAllCache()
	assert.Empty(t, m.ListIDs())
}
