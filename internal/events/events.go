// Package events defines the wire protocol: a tagged union of inbound event
// kinds and their typed payloads, plus the server-originated event
// constructors. A typed payload struct per event avoids a string-keyed
// reflection map in the dispatcher.
package events

import "encoding/json"

// Kind names an inbound or outbound event.
type Kind string

const (
	// Inbound (client -> server)
	KindJoin       Kind = "join"
	KindJoinList   Kind = "join_list"
	KindCreateList Kind = "create_list"
	KindShareList  Kind = "share_list"
	KindAddItem    Kind = "add_item"
	KindUpdateItem Kind = "update_item"
	KindDeleteItem Kind = "delete_item"
	KindDeleteList Kind = "delete_list"

	// Outbound (server -> client)
	KindListSnapshot      Kind = "list_snapshot"
	KindListCreated       Kind = "list_created"
	KindItemAdded         Kind = "item_added"
	KindItemUpdated       Kind = "item_updated"
	KindItemDeleted       Kind = "item_deleted"
	KindListDeleted       Kind = "list_deleted" // added
	KindListShareSuccess  Kind = "list_share_success"
	KindListSharedWithYou Kind = "list_shared_with_you"
	KindError             Kind = "error"
	KindAuthError         Kind = "auth_error"
	KindPermissionError   Kind = "permission_error"
	KindValidationError   Kind = "validation_error"
	KindConnected         Kind = "connected"
)

// Envelope is the on-the-wire frame: a single named event carrying one JSON
// object payload.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads, validated by internal/validation before a handler ever
// sees them.

type JoinPayload struct{}

type JoinListPayload struct {
	ListID string `json:"list_id" validate:"required"`
}

type CreateListPayload struct {
	ListName string `json:"list_name" validate:"required"`
}

type ShareListPayload struct {
	ListID string `json:"list_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=owner editor viewer"`
}

type AddItemPayload struct {
	ListID      string `json:"list_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type UpdateItemPayload struct {
	ListID      string  `json:"list_id" validate:"required"`
	ItemID      string  `json:"item_id" validate:"required"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=not_started in_progress completed"`
	Done        *bool   `json:"done,omitempty"`
	MediaURL    *string `json:"media_url,omitempty"`
	Rev         *string `json:"rev,omitempty"`
}

// Patch converts the set fields into the generic map the coordinator's
// merge logic expects. An explicit empty string for DueDate clears it,
// distinct from omitting the field entirely (which leaves it untouched).
func (p UpdateItemPayload) Patch() map[string]any {
	patch := map[string]any{}
	if p.Name != nil {
		patch["name"] = *p.Name
	}
	if p.Description != nil {
		patch["description"] = *p.Description
	}
	if p.DueDate != nil {
		patch["due_date"] = *p.DueDate
	}
	if p.Status != nil {
		patch["status"] = *p.Status
	}
	if p.Done != nil {
		patch["done"] = *p.Done
	}
	if p.MediaURL != nil {
		patch["media_url"] = *p.MediaURL
	}
	return patch
}

type DeleteItemPayload struct {
	ListID string `json:"list_id" validate:"required"`
	ItemID string `json:"item_id" validate:"required"`
}

type DeleteListPayload struct {
	ListID string `json:"list_id" validate:"required"`
}

// Outbound payload shapes.

type ListSnapshotPayload struct {
	ListID   string                       `json:"list_id"`
	ListName string                       `json:"list_name"`
	Items    map[string]json.RawMessage   `json:"items"`
	Rev      string                       `json:"rev"`
}

type ItemEventPayload struct {
	ListID string          `json:"list_id"`
	Item   json.RawMessage `json:"item"`
	Rev    string          `json:"rev"`
}

type ItemDeletedPayload struct {
	ListID string `json:"list_id"`
	ItemID string `json:"item_id"`
	Rev    string `json:"rev"`
}

type ListCreatedPayload struct {
	ListID   string                     `json:"list_id"`
	ListName string                     `json:"list_name"`
	Items    map[string]json.RawMessage `json:"items"`
	Rev      string                     `json:"rev"`
}

type ListSharedWithYouPayload struct {
	ListID  string `json:"list_id"`
	Message string `json:"message"`
}

type ListShareSuccessPayload struct {
	ListID     string `json:"list_id"`
	SharedWith string `json:"shared_with"`
	Message    string `json:"message"`
}

type ErrorPayload struct {
	Message string   `json:"message"`
	Kind    string   `json:"kind,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

type ListDeletedPayload struct {
	ListID string `json:"list_id"`
}

// Encode marshals a typed payload into an Envelope ready to write to the
// socket.
func Encode(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: kind, Payload: raw}, nil
}
