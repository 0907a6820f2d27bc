package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yongtao-wang/collab-todo/internal/events"
	"github.com/yongtao-wang/collab-todo/internal/model"
	"github.com/yongtao-wang/collab-todo/internal/state"
)

type delivery struct {
	sessionID string
	kind      events.Kind
	payload   any
}

type fakeDeliverer struct {
	deliveries []delivery
}

func (f *fakeDeliverer) Deliver(sessionID string, kind events.Kind, payload any) {
	f.deliveries = append(f.deliveries, delivery{sessionID, kind, payload})
}

func newTestListener(deliverer Deliverer) (*Listener, *state.Manager) {
	l1 := state.New()
	return &Listener{l1: l1, deliverer: deliverer}, l1
}

func TestHandleListSharedDeliversRegardlessOfSubscription(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, l1 := newTestListener(deliverer)
	l1.AddConnection("s1", "u1")
	l1.AddConnection("s2", "u2")

	l.handle(`{"type":"list_shared","list_id":"l1","user_id":"u1","message":"you have been invited"}`)

	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, "s1", deliverer.deliveries[0].sessionID)
	assert.Equal(t, events.KindListSharedWithYou, deliverer.deliveries[0].kind)
}

func TestHandleIgnoresMessageWithNoLocalInterest(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, _ := newTestListener(deliverer)

	item, _ := json.Marshal(model.TodoItem{ItemID: "i1", Name: "milk"})
	l.handle(`{"type":"item_added","list_id":"l1","item":` + string(item) + `,"rev":"1.000000"}`)

	assert.Empty(t, deliverer.deliveries)
}

func TestHandleItemAddedUpdatesCacheAndDelivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, l1 := newTestListener(deliverer)
	l1.PutCache(model.ListCacheEntry{ListID: "l1", Rev: 1, Items: map[string]model.TodoItem{}})
	l1.AddConnection("s1", "u1")
	l1.Subscribe("s1", "l1")

	item, _ := json.Marshal(model.TodoItem{ItemID: "i1", Name: "milk"})
	l.handle(`{"type":"item_added","list_id":"l1","item":` + string(item) + `,"rev":"2.000000"}`)

	entry, ok := l1.GetCache("l1")
	require.True(t, ok)
	assert.Equal(t, float64(2), entry.Rev)
	assert.Equal(t, "milk", entry.Items["i1"].Name)

	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, events.KindItemAdded, deliverer.deliveries[0].kind)
}

func TestHandleItemAddedIgnoresStaleRev(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, l1 := newTestListener(deliverer)
	l1.PutCache(model.ListCacheEntry{ListID: "l1", Rev: 5, Items: map[string]model.TodoItem{
		"i1": {ItemID: "i1", Name: "original"},
	}})
	l1.AddConnection("s1", "u1")
	l1.Subscribe("s1", "l1")

	item, _ := json.Marshal(model.TodoItem{ItemID: "i1", Name: "stale-write"})
	l.handle(`{"type":"item_updated","list_id":"l1","item":` + string(item) + `,"rev":"3.000000"}`)

	entry, _ := l1.GetCache("l1")
	assert.Equal(t, "original", entry.Items["i1"].Name)
	assert.Equal(t, float64(5), entry.Rev)
}

func TestHandleItemDeletedTombstonesAndDelivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, l1 := newTestListener(deliverer)
	l1.PutCache(model.ListCacheEntry{ListID: "l1", Rev: 1, Items: map[string]model.TodoItem{
		"i1": {ItemID: "i1"},
	}})
	l1.AddConnection("s1", "u1")
	l1.Subscribe("s1", "l1")

	l.handle(`{"type":"item_deleted","list_id":"l1","item_id":"i1","rev":"2.000000"}`)

	entry, _ := l1.GetCache("l1")
	assert.True(t, entry.Items["i1"].IsDeleted)
	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, events.KindItemDeleted, deliverer.deliveries[0].kind)
}

func TestHandleListDeletedDropsCacheAndDelivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, l1 := newTestListener(deliverer)
	l1.PutCache(model.ListCacheEntry{ListID: "l1"})
	l1.AddConnection("s1", "u1")
	l1.Subscribe("s1", "l1")

	l.handle(`{"type":"list_deleted","list_id":"l1"}`)

	_, ok := l1.GetCache("l1")
	assert.False(t, ok)
	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, events.KindListDeleted, deliverer.deliveries[0].kind)
}

func TestHandleMalformedPayloadDoesNotPanic(t *testing.T) {
	deliverer := &fakeDeliverer{}
	l, _ := newTestListener(deliverer)

	assert.NotPanics(t, func() {
		l.handle(`not json`)
	})
}
