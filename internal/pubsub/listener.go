// Package pubsub runs the single long-running subscriber per process that
// mirrors fan-out messages into local L1 and delivers them to local
// subscribers. This is the only path by which a node learns of another
// node's writes, including its own: a write's origin session gets its
// update through the same broadcast as every other subscriber, not a side
// channel.
package pubsub

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/events"
	"github.com/yongtao-wang/collab-todo/internal/model"
	"github.com/yongtao-wang/collab-todo/internal/sharedstore"
	"github.com/yongtao-wang/collab-todo/internal/state"
)

// message mirrors the {type, list_id, ..., rev} shape scripts publish.
type message struct {
	Type    string          `json:"type"`
	ListID  string          `json:"list_id"`
	Item    json.RawMessage `json:"item,omitempty"`
	ItemID  string          `json:"item_id,omitempty"`
	Rev     string          `json:"rev,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Deliverer pushes an outbound envelope to one session. Implemented by the
// server's session registry.
type Deliverer interface {
	Deliver(sessionID string, kind events.Kind, payload any)
}

// Listener consumes the fan-out channel and mirrors updates into L1.
type Listener struct {
	shared    *sharedstore.Store
	l1        *state.Manager
	deliverer Deliverer
}

func New(shared *sharedstore.Store, l1 *state.Manager, deliverer Deliverer) *Listener {
	return &Listener{shared: shared, l1: l1, deliverer: deliverer}
}

// Run subscribes and processes messages until ctx is cancelled. A failure
// handling one message is logged and never propagates to the loop.
func (l *Listener) Run(ctx context.Context) {
	sub := l.shared.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			l.handle(raw.Payload)
		}
	}
}

func (l *Listener) handle(payload string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pubsub message handler panicked")
		}
	}()

	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Error().Err(err).Msg("failed to decode pubsub message")
		return
	}

	if msg.Type == "list_shared" {
		for _, sessionID := range l.l1.SessionsForUser(msg.UserID) {
			l.deliverer.Deliver(sessionID, events.KindListSharedWithYou, events.ListSharedWithYouPayload{ListID: msg.ListID, Message: msg.Message})
		}
		return
	}

	sessions := l.l1.SessionsForList(msg.ListID)
	_, haveCache := l.l1.GetCache(msg.ListID)
	if !haveCache && len(sessions) == 0 {
		return // no local interest and no cache to update; ignore
	}

	switch msg.Type {
	case "item_added", "item_updated":
		l.applyItem(msg, haveCache)
		kind := events.KindItemAdded
		if msg.Type == "item_updated" {
			kind = events.KindItemUpdated
		}
		for _, sessionID := range sessions {
			l.deliverer.Deliver(sessionID, kind, events.ItemEventPayload{ListID: msg.ListID, Item: msg.Item, Rev: msg.Rev})
		}
	case "item_deleted":
		l.applyTombstone(msg, haveCache)
		for _, sessionID := range sessions {
			l.deliverer.Deliver(sessionID, events.KindItemDeleted, events.ItemDeletedPayload{ListID: msg.ListID, ItemID: msg.ItemID, Rev: msg.Rev})
		}
	case "list_deleted":
		l.l1.DropCache(msg.ListID)
		for _, sessionID := range sessions {
			l.deliverer.Deliver(sessionID, events.KindListDeleted, events.ListDeletedPayload{ListID: msg.ListID})
		}
	default:
		log.Warn().Str("type", msg.Type).Msg("unknown pubsub message type")
	}
}

func (l *Listener) applyItem(msg message, haveCache bool) {
	if !haveCache {
		return
	}
	entry, ok := l.l1.GetCache(msg.ListID)
	if !ok {
		return
	}
	var item model.TodoItem
	if err := json.Unmarshal(msg.Item, &item); err != nil {
		log.Error().Err(err).Msg("failed to decode item in pubsub message")
		return
	}
	rev := parseRev(msg.Rev)
	if rev < entry.Rev {
		return
	}
	if entry.Items == nil {
		entry.Items = map[string]model.TodoItem{}
	}
	entry.Items[item.ItemID] = item
	entry.Rev = rev
	l.l1.PutCache(entry)
}

func (l *Listener) applyTombstone(msg message, haveCache bool) {
	if !haveCache {
		return
	}
	entry, ok := l.l1.GetCache(msg.ListID)
	if !ok {
		return
	}
	rev := parseRev(msg.Rev)
	if rev < entry.Rev {
		return
	}
	if it, ok := entry.Items[msg.ItemID]; ok {
		it.IsDeleted = true
		entry.Items[msg.ItemID] = it
	}
	entry.Rev = rev
	l.l1.PutCache(entry)
}

func parseRev(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
