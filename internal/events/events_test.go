package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrips(t *testing.T) {
	env, err := Encode(KindItemAdded, ItemEventPayload{ListID: "l1", Rev: "1.000000"})
	require.NoError(t, err)
	assert.Equal(t, KindItemAdded, env.Type)

	var payload ItemEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "l1", payload.ListID)
	assert.Equal(t, "1.000000", payload.Rev)
}

func TestUpdateItemPayloadPatchOnlyIncludesSetFields(t *testing.T) {
	name := "new name"
	done := true
	p := UpdateItemPayload{ListID: "l1", ItemID: "i1", Name: &name, Done: &done}

	patch := p.Patch()
	assert.Equal(t, "new name", patch["name"])
	assert.Equal(t, true, patch["done"])
	_, hasStatus := patch["status"]
	assert.False(t, hasStatus)
	_, hasDescription := patch["description"]
	assert.False(t, hasDescription)
}

func TestUpdateItemPayloadEmptyPatch(t *testing.T) {
	p := UpdateItemPayload{ListID: "l1", ItemID: "i1"}
	assert.Empty(t, p.Patch())
}

func TestUpdateItemPayloadPatchIncludesDueDate(t *testing.T) {
	due := "2026-09-01T00:00:00Z"
	p := UpdateItemPayload{ListID: "l1", ItemID: "i1", DueDate: &due}
	assert.Equal(t, due, p.Patch()["due_date"])
}
