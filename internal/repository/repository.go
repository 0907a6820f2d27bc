// Package repository provides typed, upsert-safe CRUD against the durable
// sqlite-backed database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yongtao-wang/collab-todo/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the durable store (L3) access layer.
type Repository struct {
	db *sql.DB
}

// Open opens (and migrates) the sqlite-backed durable store at path.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate durable store: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) GetList(ctx context.Context, listID string) (model.TodoList, error) {
	row := r.db.QueryRowContext(ctx, `SELECT list_id, list_name, owner_id, is_deleted, created_at, updated_at
		FROM todo_lists WHERE list_id = ?`, listID)
	var l model.TodoList
	var isDeleted int
	var created, updated string
	if err := row.Scan(&l.ListID, &l.ListName, &l.OwnerID, &isDeleted, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TodoList{}, ErrNotFound
		}
		return model.TodoList{}, fmt.Errorf("get list: %w", err)
	}
	l.IsDeleted = isDeleted != 0
	l.CreatedAt, _ = time.Parse(time.RFC3339, created)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return l, nil
}

func (r *Repository) GetListsForUser(ctx context.Context, userID string) ([]model.TodoList, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT l.list_id, l.list_name, l.owner_id, l.is_deleted, l.created_at, l.updated_at
		FROM todo_lists l
		INNER JOIN todo_list_members m ON m.list_id = l.list_id
		WHERE m.user_id = ? AND l.is_deleted = 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("get lists for user: %w", err)
	}
	defer rows.Close()

	var out []model.TodoList
	for rows.Next() {
		var l model.TodoList
		var isDeleted int
		var created, updated string
		if err := rows.Scan(&l.ListID, &l.ListName, &l.OwnerID, &isDeleted, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.IsDeleted = isDeleted != 0
		l.CreatedAt, _ = time.Parse(time.RFC3339, created)
		l.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) CreateList(ctx context.Context, list model.TodoList) (model.TodoList, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.db.ExecContext(ctx, `INSERT INTO todo_lists (list_id, list_name, owner_id, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(list_id) DO UPDATE SET list_name = excluded.list_name`,
		list.ListID, list.ListName, list.OwnerID, now, now); err != nil {
		return model.TodoList{}, fmt.Errorf("create list: %w", err)
	}
	list.CreatedAt, _ = time.Parse(time.RFC3339, now)
	list.UpdatedAt = list.CreatedAt
	return list, nil
}

func (r *Repository) SoftDeleteList(ctx context.Context, listID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE todo_lists SET is_deleted = 1 WHERE list_id = ?`, listID)
	if err != nil {
		return fmt.Errorf("soft delete list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) AddItem(ctx context.Context, item model.TodoItem) (model.TodoItem, error) {
	return r.upsertItem(ctx, item)
}

func (r *Repository) UpdateItem(ctx context.Context, item model.TodoItem) (model.TodoItem, error) {
	return r.upsertItem(ctx, item)
}

func (r *Repository) upsertItem(ctx context.Context, item model.TodoItem) (model.TodoItem, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var due sql.NullString
	if item.DueDate != nil {
		due = sql.NullString{String: item.DueDate.UTC().Format(time.RFC3339), Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO todo_items
			(item_id, list_id, name, description, due_date, status, done, media_url, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			due_date = excluded.due_date,
			status = excluded.status,
			done = excluded.done,
			media_url = excluded.media_url,
			is_deleted = excluded.is_deleted`,
		item.ItemID, item.ListID, item.Name, item.Description, due, string(item.Status),
		boolToInt(item.Done), item.MediaURL, boolToInt(item.IsDeleted), now, now,
	); err != nil {
		return model.TodoItem{}, fmt.Errorf("upsert item: %w", err)
	}
	return item, nil
}

func (r *Repository) SoftDeleteItem(ctx context.Context, itemID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE todo_items SET is_deleted = 1 WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetListWithItems reads a full list plus its non-deleted-and-deleted items,
// used to rebuild L2 from L3 on a cold-cache read-through.
func (r *Repository) GetListWithItems(ctx context.Context, listID string) (model.TodoList, map[string]model.TodoItem, error) {
	list, err := r.GetList(ctx, listID)
	if err != nil {
		return model.TodoList{}, nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT item_id, list_id, name, description, due_date, status, done, media_url, is_deleted, created_at, updated_at
		FROM todo_items WHERE list_id = ?`, listID)
	if err != nil {
		return model.TodoList{}, nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]model.TodoItem)
	for rows.Next() {
		var it model.TodoItem
		var due sql.NullString
		var done, isDeleted int
		var created, updated string
		if err := rows.Scan(&it.ItemID, &it.ListID, &it.Name, &it.Description, &due, &it.Status, &done, &it.MediaURL, &isDeleted, &created, &updated); err != nil {
			return model.TodoList{}, nil, fmt.Errorf("scan item: %w", err)
		}
		it.Done = done != 0
		it.IsDeleted = isDeleted != 0
		it.CreatedAt, _ = time.Parse(time.RFC3339, created)
		it.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		if due.Valid {
			t, _ := time.Parse(time.RFC3339, due.String)
			it.DueDate = &t
		}
		items[it.ItemID] = it
	}
	return list, items, rows.Err()
}

func (r *Repository) ListMembers(ctx context.Context, listID string) ([]model.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT list_id, user_id, role FROM todo_list_members WHERE list_id = ?`, listID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ListID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) AddMember(ctx context.Context, m model.Membership) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO todo_list_members (list_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT(list_id, user_id) DO UPDATE SET role = excluded.role`,
		m.ListID, m.UserID, string(m.Role)); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
