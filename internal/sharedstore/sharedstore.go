// Package sharedstore runs the atomic mutation scripts on the shared L2
// store (Redis), plus the typed hash read/write helpers the coordinator
// uses for read-through and seeding. Scripts are loaded once at startup and
// invoked by SHA.
package sharedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yongtao-wang/collab-todo/internal/model"
)

// ErrNotFound is returned when a list key doesn't exist in L2.
var ErrNotFound = errors.New("not found in shared store")

// Store wraps a Redis client with the collaboration engine's atomic scripts
// and hash layout.
type Store struct {
	client  *redis.Client
	channel string

	addItem    *redis.Script
	updateItem *redis.Script
	deleteItem *redis.Script
}

// Open connects to the shared store at url and preloads the mutation
// scripts.
func Open(ctx context.Context, url, channel string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse shared store url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping shared store: %w", err)
	}

	s := &Store{
		client:     client,
		channel:    channel,
		addItem:    redis.NewScript(addItemScript),
		updateItem: redis.NewScript(updateItemScript),
		deleteItem: redis.NewScript(deleteItemScript),
	}
	for _, sc := range []*redis.Script{s.addItem, s.updateItem, s.deleteItem} {
		if err := sc.Load(ctx, client).Err(); err != nil {
			return nil, fmt.Errorf("load script: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.client.Close() }

func listKey(listID string) string { return "todo:state:" + listID }

// AddItem runs the add_item script and returns the new revision.
func (s *Store) AddItem(ctx context.Context, listID string, item model.TodoItem) (float64, error) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("marshal item: %w", err)
	}
	res, err := s.addItem.Run(ctx, s.client, []string{listKey(listID), s.channel}, item.ItemID, string(itemJSON), listID).Result()
	if err != nil {
		return 0, fmt.Errorf("run add_item script: %w", err)
	}
	return parseRev(res)
}

// UpdateItem runs the update_item script; fails if the list or item is
// absent.
func (s *Store) UpdateItem(ctx context.Context, listID string, item model.TodoItem) (float64, error) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("marshal item: %w", err)
	}
	res, err := s.updateItem.Run(ctx, s.client, []string{listKey(listID), s.channel}, item.ItemID, string(itemJSON), listID).Result()
	if err != nil {
		return 0, fmt.Errorf("run update_item script: %w", err)
	}
	return parseRev(res)
}

// DeleteItem runs the delete_item script, replacing the item with a
// tombstone; fails if the list or item is absent.
func (s *Store) DeleteItem(ctx context.Context, listID, itemID string, tombstone model.TodoItem) (float64, error) {
	tombstoneJSON, err := json.Marshal(tombstone)
	if err != nil {
		return 0, fmt.Errorf("marshal tombstone: %w", err)
	}
	res, err := s.deleteItem.Run(ctx, s.client, []string{listKey(listID), s.channel}, itemID, listID, string(tombstoneJSON)).Result()
	if err != nil {
		return 0, fmt.Errorf("run delete_item script: %w", err)
	}
	return parseRev(res)
}

// GetListCache reads the full cached entry for a list, or ErrNotFound.
func (s *Store) GetListCache(ctx context.Context, listID string) (model.ListCacheEntry, error) {
	h, err := s.client.HGetAll(ctx, listKey(listID)).Result()
	if err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("read list cache: %w", err)
	}
	if len(h) == 0 {
		return model.ListCacheEntry{}, ErrNotFound
	}
	entry := model.ListCacheEntry{ListID: listID, ListName: h["list_name"]}
	rev, err := strconv.ParseFloat(h["rev"], 64)
	if err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("parse rev: %w", err)
	}
	entry.Rev = rev
	items := make(map[string]model.TodoItem)
	if raw, ok := h["items"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return model.ListCacheEntry{}, fmt.Errorf("decode items: %w", err)
		}
	}
	entry.Items = items
	if secs, err := strconv.ParseInt(h["updated_at"], 10, 64); err == nil {
		entry.UpdatedAt = time.Unix(secs, 0).UTC()
	}
	return entry, nil
}

// SeedListCache writes a fresh cache entry, used when rebuilding L2 from L3
// (cold-cache read-through) or seeding a newly created list.
func (s *Store) SeedListCache(ctx context.Context, entry model.ListCacheEntry) error {
	itemsJSON, err := json.Marshal(entry.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	if err := s.client.HSet(ctx, listKey(entry.ListID),
		"list_name", entry.ListName,
		"items", string(itemsJSON),
		"rev", strconv.FormatFloat(entry.Rev, 'f', -1, 64),
		"updated_at", entry.UpdatedAt.Unix(),
	).Err(); err != nil {
		return fmt.Errorf("seed list cache: %w", err)
	}
	return nil
}

// Clock returns the store's current wall clock as seconds.microseconds, used
// to derive a fresh rev outside of a mutation script (e.g. cold rebuild).
func (s *Store) Clock(ctx context.Context) (float64, error) {
	res, err := s.client.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("read store clock: %w", err)
	}
	return float64(res.Unix()) + float64(res.Nanosecond())/1e9, nil
}

// Subscribe returns a PubSub handle on the fan-out channel.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.channel)
}

// Publish emits a raw message on the fan-out channel, used for the
// list_shared and list_deleted messages that don't originate from an
// atomic mutation script.
func (s *Store) Publish(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return s.client.Publish(ctx, s.channel, raw).Err()
}

// FlushList deletes a list's L2 entry, used by /cache/flush.
func (s *Store) FlushList(ctx context.Context, listID string) error {
	return s.client.Del(ctx, listKey(listID)).Err()
}

func parseRev(res any) (float64, error) {
	s, ok := res.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", res)
	}
	return strconv.ParseFloat(s, 64)
}
