// Package model defines the shared data model for lists, items, membership,
// and the cache entry shape that flows through L1/L2/L3.
package model

import "time"

// Status is the lifecycle state of a TodoItem.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Role is a membership's access level on a list.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Action is something a user attempts against a list.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionShare Action = "share"
)

// TodoList is the durable representation of a list.
type TodoList struct {
	ListID    string    `json:"list_id"`
	ListName  string    `json:"list_name"`
	OwnerID   string    `json:"owner_id"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodoItem is a single item on a list, durable and cached.
type TodoItem struct {
	ItemID      string     `json:"item_id"`
	ListID      string     `json:"list_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      Status     `json:"status"`
	Done        bool       `json:"done"`
	MediaURL    string     `json:"media_url,omitempty"`
	IsDeleted   bool       `json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ApplyStatusDoneCoupling enforces the status/done coupling rule: a patch
// that sets status=completed forces done=true; a patch that sets done=true
// forces status=completed; a patch that sets done=false while the current
// status is completed demotes status to in_progress.
func ApplyStatusDoneCoupling(current TodoItem, patch map[string]any) TodoItem {
	next := current
	if v, ok := patch["name"].(string); ok {
		next.Name = v
	}
	if v, ok := patch["description"].(string); ok {
		next.Description = v
	}
	if v, ok := patch["media_url"].(string); ok {
		next.MediaURL = v
	}
	if v, ok := patch["due_date"].(string); ok {
		if v == "" {
			next.DueDate = nil
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			next.DueDate = &t
		}
	}
	if v, ok := patch["status"].(string); ok {
		next.Status = Status(v)
	}
	statusSet := false
	if _, ok := patch["status"].(string); ok {
		statusSet = true
	}
	doneSet := false
	doneVal := false
	if v, ok := patch["done"].(bool); ok {
		doneSet = true
		doneVal = v
	}

	switch {
	case statusSet && next.Status == StatusCompleted:
		next.Done = true
	case doneSet && doneVal:
		next.Status = StatusCompleted
		next.Done = true
	case doneSet && !doneVal && next.Status == StatusCompleted:
		next.Status = StatusInProgress
		next.Done = false
	case !statusSet && !doneSet:
		// neither field touched: leave status/done exactly as inherited.
	default:
		next.Done = next.Status == StatusCompleted
	}
	return next
}

// Membership is a (list_id, user_id) role grant.
type Membership struct {
	ListID string `json:"list_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// ListCacheEntry is the shape held in L1 and L2: the list's cached state
// plus the revision used for conflict detection.
type ListCacheEntry struct {
	ListID    string              `json:"list_id"`
	ListName  string              `json:"list_name"`
	Items     map[string]TodoItem `json:"items"`
	Rev       float64             `json:"rev"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Clone returns a deep-enough copy of the entry for safe handoff across the
// cache mutex boundary.
func (e ListCacheEntry) Clone() ListCacheEntry {
	items := make(map[string]TodoItem, len(e.Items))
	for k, v := range e.Items {
		items[k] = v
	}
	e.Items = items
	return e
}

// NonTombstoneItems returns every item in the entry that isn't soft-deleted.
func (e ListCacheEntry) NonTombstoneItems() map[string]TodoItem {
	out := make(map[string]TodoItem, len(e.Items))
	for id, it := range e.Items {
		if !it.IsDeleted {
			out[id] = it
		}
	}
	return out
}
