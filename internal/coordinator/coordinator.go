// Package coordinator is the façade owning L1<->L2<->L3 read-through and
// write-through: it invokes the atomic mutation scripts and hands durable
// writes to the write-behind worker.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
	"github.com/yongtao-wang/collab-todo/internal/metrics"
	"github.com/yongtao-wang/collab-todo/internal/model"
	"github.com/yongtao-wang/collab-todo/internal/repository"
	"github.com/yongtao-wang/collab-todo/internal/sharedstore"
	"github.com/yongtao-wang/collab-todo/internal/state"
	"github.com/yongtao-wang/collab-todo/internal/writebehind"
)

// storeTimeout bounds shared-store operations; a handler sees transient_error
// once it elapses.
const storeTimeout = 2 * time.Second

// Coordinator is the central façade between the WebSocket dispatch layer
// and the cache/store tiers.
type Coordinator struct {
	repo    *repository.Repository
	shared  *sharedstore.Store
	l1      *state.Manager
	worker  *writebehind.Worker
	metrics *metrics.Metrics
}

func New(repo *repository.Repository, shared *sharedstore.Store, l1 *state.Manager, worker *writebehind.Worker, m *metrics.Metrics) *Coordinator {
	return &Coordinator{repo: repo, shared: shared, l1: l1, worker: worker, metrics: m}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

// CheckAndLoadListCache implements the L1->L2->L3 self-healing read-through:
// an L1 hit returns immediately, an L2 hit seeds L1, and a miss (or a
// client_rev ahead of L2) triggers a rebuild from the durable store.
func (c *Coordinator) CheckAndLoadListCache(ctx context.Context, listID string, clientRev float64) (model.ListCacheEntry, error) {
	if entry, ok := c.l1.GetCache(listID); ok {
		return entry, nil
	}

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	entry, err := c.shared.GetListCache(sctx, listID)
	switch {
	case err == nil && clientRev <= entry.Rev:
		c.l1.PutCache(entry)
		return entry, nil
	case err != nil && err != sharedstore.ErrNotFound:
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "shared store read failed", err)
	}

	// L2 missing, or client_rev > L2.rev: force a read-through from L3 and
	// rebuild L2 with a fresh rev.
	return c.rebuildFromDurable(ctx, listID)
}

func (c *Coordinator) rebuildFromDurable(ctx context.Context, listID string) (model.ListCacheEntry, error) {
	list, items, err := c.repo.GetListWithItems(ctx, listID)
	if err != nil {
		if err == repository.ErrNotFound {
			return model.ListCacheEntry{}, collaberr.New(collaberr.KindNotFound, fmt.Sprintf("list %s not found", listID))
		}
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "durable read failed", err)
	}

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	rev, err := c.shared.Clock(sctx)
	if err != nil {
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "shared store clock read failed", err)
	}

	entry := model.ListCacheEntry{ListID: listID, ListName: list.ListName, Items: items, Rev: rev, UpdatedAt: time.Now().UTC()}
	if err := c.shared.SeedListCache(sctx, entry); err != nil {
		log.Warn().Err(err).Str("list_id", listID).Msg("failed to seed shared store on rebuild")
	}
	c.l1.PutCache(entry)
	return entry, nil
}

// SnapshotList returns the current L1 entry, loading it if necessary.
func (c *Coordinator) SnapshotList(ctx context.Context, listID string) (model.ListCacheEntry, error) {
	return c.CheckAndLoadListCache(ctx, listID, 0)
}

// AddItem runs the add_item script, applies the returned rev and mutation
// to L1, and enqueues the durable write.
func (c *Coordinator) AddItem(ctx context.Context, listID string, item model.TodoItem) (model.TodoItem, float64, error) {
	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	item.ListID = listID
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	if item.Status == "" {
		item.Status = model.StatusNotStarted
	}

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	rev, err := c.shared.AddItem(sctx, listID, item)
	if err != nil {
		return model.TodoItem{}, 0, collaberr.Wrap(collaberr.KindTransientError, "add_item script failed", err)
	}

	c.applyLocal(listID, item, rev, false)
	c.enqueueDurable(writebehind.Job{Op: writebehind.OpAddItem, Item: item})
	return item, rev, nil
}

// UpdateItem merges a patch over the current snapshot and runs
// update_item. Callers are responsible for the conflict check (comparing
// client_rev to the list's current rev) before calling this.
func (c *Coordinator) UpdateItem(ctx context.Context, listID, itemID string, patch map[string]any) (model.TodoItem, float64, error) {
	entry, err := c.CheckAndLoadListCache(ctx, listID, 0)
	if err != nil {
		return model.TodoItem{}, 0, err
	}
	current, ok := entry.Items[itemID]
	if !ok {
		return model.TodoItem{}, 0, collaberr.New(collaberr.KindNotFound, fmt.Sprintf("item %s not found on list %s", itemID, listID))
	}

	next := model.ApplyStatusDoneCoupling(current, patch)
	next.UpdatedAt = time.Now().UTC()

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	rev, err := c.shared.UpdateItem(sctx, listID, next)
	if err != nil {
		return model.TodoItem{}, 0, collaberr.Wrap(collaberr.KindTransientError, "update_item script failed", err)
	}

	c.applyLocal(listID, next, rev, false)
	c.enqueueDurable(writebehind.Job{Op: writebehind.OpUpdateItem, Item: next})
	return next, rev, nil
}

// DeleteItem replaces the item with a tombstone rather than removing the row.
func (c *Coordinator) DeleteItem(ctx context.Context, listID, itemID string) (float64, error) {
	entry, err := c.CheckAndLoadListCache(ctx, listID, 0)
	if err != nil {
		return 0, err
	}
	current, ok := entry.Items[itemID]
	if !ok {
		return 0, collaberr.New(collaberr.KindNotFound, fmt.Sprintf("item %s not found on list %s", itemID, listID))
	}
	tombstone := current
	tombstone.IsDeleted = true
	tombstone.UpdatedAt = time.Now().UTC()

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	rev, err := c.shared.DeleteItem(sctx, listID, itemID, tombstone)
	if err != nil {
		return 0, collaberr.Wrap(collaberr.KindTransientError, "delete_item script failed", err)
	}

	c.applyLocal(listID, tombstone, rev, true)
	c.enqueueDurable(writebehind.Job{Op: writebehind.OpSoftDeleteItem, ItemID: itemID})
	return rev, nil
}

// applyLocal applies a mutation idempotently to L1: if the pub/sub
// round-trip races with this local write, rev equality wins.
func (c *Coordinator) applyLocal(listID string, item model.TodoItem, rev float64, _ bool) {
	entry, ok := c.l1.GetCache(listID)
	if !ok {
		entry = model.ListCacheEntry{ListID: listID, Items: map[string]model.TodoItem{}}
	}
	if rev < entry.Rev {
		return // already applied via pub/sub
	}
	entry.Items[item.ItemID] = item
	entry.Rev = rev
	entry.UpdatedAt = time.Now().UTC()
	c.l1.PutCache(entry)
}

// CreateList performs the synchronous durable write (needed because the new
// list_id is the return value), then seeds L2 and L1.
func (c *Coordinator) CreateList(ctx context.Context, ownerID, name string) (model.ListCacheEntry, error) {
	list := model.TodoList{ListID: uuid.NewString(), ListName: name, OwnerID: ownerID}
	created, err := c.repo.CreateList(ctx, list)
	if err != nil {
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "create list failed", err)
	}
	if err := c.repo.AddMember(ctx, model.Membership{ListID: created.ListID, UserID: ownerID, Role: model.RoleOwner}); err != nil {
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "seed owner membership failed", err)
	}

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	rev, err := c.shared.Clock(sctx)
	if err != nil {
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "shared store clock read failed", err)
	}
	entry := model.ListCacheEntry{ListID: created.ListID, ListName: created.ListName, Items: map[string]model.TodoItem{}, Rev: rev, UpdatedAt: created.CreatedAt}
	if err := c.shared.SeedListCache(sctx, entry); err != nil {
		return model.ListCacheEntry{}, collaberr.Wrap(collaberr.KindTransientError, "seed shared store failed", err)
	}
	c.l1.PutCache(entry)
	return entry, nil
}

// SoftDeleteList performs a synchronous durable delete and L1/L2 eviction;
// the caller publishes list_deleted via the shared store so other nodes
// drop their own L1 entries.
func (c *Coordinator) SoftDeleteList(ctx context.Context, listID string) error {
	if err := c.repo.SoftDeleteList(ctx, listID); err != nil {
		if err == repository.ErrNotFound {
			return collaberr.New(collaberr.KindNotFound, fmt.Sprintf("list %s not found", listID))
		}
		return collaberr.Wrap(collaberr.KindTransientError, "soft delete list failed", err)
	}
	c.l1.DropCache(listID)
	sctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := c.shared.FlushList(sctx, listID); err != nil {
		log.Warn().Err(err).Str("list_id", listID).Msg("failed to flush shared store entry on list delete")
	}
	return nil
}

// ShareList performs the synchronous durable membership upsert.
// Pub/sub emission (list_shared) is the handler's responsibility since it
// needs to build the wire payload; this only persists membership.
func (c *Coordinator) ShareList(ctx context.Context, listID, userID string, role model.Role) error {
	if err := c.repo.AddMember(ctx, model.Membership{ListID: listID, UserID: userID, Role: role}); err != nil {
		return collaberr.Wrap(collaberr.KindTransientError, "share list failed", err)
	}
	return nil
}

// MembershipFor implements permission.MembershipLookup.
func (c *Coordinator) MembershipFor(ctx context.Context, listID, userID string) (model.Membership, bool, error) {
	members, err := c.repo.ListMembers(ctx, listID)
	if err != nil {
		return model.Membership{}, false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m, true, nil
		}
	}
	return model.Membership{}, false, nil
}

// ListsForUser returns every list the user belongs to, for the `join` event.
func (c *Coordinator) ListsForUser(ctx context.Context, userID string) ([]model.TodoList, error) {
	lists, err := c.repo.GetListsForUser(ctx, userID)
	if err != nil {
		return nil, collaberr.Wrap(collaberr.KindTransientError, "list lookup failed", err)
	}
	return lists, nil
}

func (c *Coordinator) enqueueDurable(job writebehind.Job) {
	if !c.worker.Enqueue(job) {
		c.metrics.WriteDropped.Inc()
	}
}

// L1 exposes the state manager for the server/pubsub listener wiring.
func (c *Coordinator) L1() *state.Manager { return c.l1 }

// Shared exposes the shared store for the pub/sub listener.
func (c *Coordinator) Shared() *sharedstore.Store { return c.shared }

// CompactTombstones drops tombstoned items from a list's L1 entry. Not
// scheduled by default; a caller can wire it to a periodic ticker if
// tombstone growth becomes a problem in practice.
func (c *Coordinator) CompactTombstones(listID string) {
	entry, ok := c.l1.GetCache(listID)
	if !ok {
		return
	}
	for id, it := range entry.Items {
		if it.IsDeleted {
			delete(entry.Items, id)
		}
	}
	c.l1.PutCache(entry)
}
