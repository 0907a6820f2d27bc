package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
	"github.com/yongtao-wang/collab-todo/internal/events"
)

func TestValidateRequiredFieldMissing(t *testing.T) {
	err := Validate(events.JoinListPayload{})
	require.Error(t, err)
	assert.True(t, collaberr.OfKind(err, collaberr.KindValidationError))

	ce, ok := collaberr.As(err)
	require.True(t, ok)
	assert.Contains(t, ce.Fields, "listid: failed required")
}

func TestValidateOneofRejectsUnknownRole(t *testing.T) {
	err := Validate(events.ShareListPayload{ListID: "l1", UserID: "u1", Role: "admin"})
	require.Error(t, err)
	ce, ok := collaberr.As(err)
	require.True(t, ok)
	assert.Contains(t, ce.Fields, "role: failed oneof")
}

func TestValidatePassesWithAllRequiredFields(t *testing.T) {
	err := Validate(events.AddItemPayload{ListID: "l1", Name: "milk"})
	assert.NoError(t, err)
}

func TestValidateUpdateItemOmitsOptionalStatus(t *testing.T) {
	err := Validate(events.UpdateItemPayload{ListID: "l1", ItemID: "i1"})
	assert.NoError(t, err)
}

func TestValidateUpdateItemRejectsBadStatus(t *testing.T) {
	bad := "archived"
	err := Validate(events.UpdateItemPayload{ListID: "l1", ItemID: "i1", Status: &bad})
	require.Error(t, err)
	assert.True(t, collaberr.OfKind(err, collaberr.KindValidationError))
}
