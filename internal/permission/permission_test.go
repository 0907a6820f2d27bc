package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
	"github.com/yongtao-wang/collab-todo/internal/model"
)

type fakeLookup struct {
	members map[string]model.Membership // key: listID+userID
}

func (f *fakeLookup) MembershipFor(_ context.Context, listID, userID string) (model.Membership, bool, error) {
	m, ok := f.members[listID+userID]
	return m, ok, nil
}

func TestCheckRoleActions(t *testing.T) {
	lookup := &fakeLookup{members: map[string]model.Membership{
		"l1u1": {ListID: "l1", UserID: "u1", Role: model.RoleOwner},
		"l1u2": {ListID: "l1", UserID: "u2", Role: model.RoleEditor},
		"l1u3": {ListID: "l1", UserID: "u3", Role: model.RoleViewer},
	}}
	svc := New(lookup)
	ctx := context.Background()

	require.NoError(t, svc.Check(ctx, "u1", "l1", model.ActionShare))
	require.NoError(t, svc.Check(ctx, "u2", "l1", model.ActionWrite))
	require.NoError(t, svc.Check(ctx, "u3", "l1", model.ActionRead))

	assert.Error(t, svc.Check(ctx, "u2", "l1", model.ActionShare))
	assert.Error(t, svc.Check(ctx, "u3", "l1", model.ActionWrite))
}

func TestCheckNonMemberDenied(t *testing.T) {
	lookup := &fakeLookup{members: map[string]model.Membership{}}
	svc := New(lookup)

	err := svc.Check(context.Background(), "stranger", "l1", model.ActionRead)
	require.Error(t, err)
	assert.True(t, collaberr.OfKind(err, collaberr.KindPermissionDenied))
}

func TestIsOwner(t *testing.T) {
	lookup := &fakeLookup{members: map[string]model.Membership{
		"l1u1": {ListID: "l1", UserID: "u1", Role: model.RoleOwner},
		"l1u2": {ListID: "l1", UserID: "u2", Role: model.RoleEditor},
	}}
	svc := New(lookup)

	owner, err := svc.IsOwner(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.True(t, owner)

	owner, err = svc.IsOwner(context.Background(), "u2", "l1")
	require.NoError(t, err)
	assert.False(t, owner)
}
