// Package permission resolves whether a user may read/write/share a given
// list, based on membership role.
package permission

import (
	"context"
	"fmt"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
	"github.com/yongtao-wang/collab-todo/internal/model"
)

// MembershipLookup resolves a user's membership on a list. Implemented by
// the coordinator, which may read through to the durable store.
type MembershipLookup interface {
	MembershipFor(ctx context.Context, listID, userID string) (model.Membership, bool, error)
}

// Service checks (user_id, list_id, action) against membership roles.
type Service struct {
	lookup MembershipLookup
}

func New(lookup MembershipLookup) *Service {
	return &Service{lookup: lookup}
}

var roleActions = map[model.Role]map[model.Action]bool{
	model.RoleOwner:  {model.ActionRead: true, model.ActionWrite: true, model.ActionShare: true},
	model.RoleEditor: {model.ActionRead: true, model.ActionWrite: true},
	model.RoleViewer: {model.ActionRead: true},
}

// Check returns nil if userID may perform action on listID, otherwise a
// *collaberr.CollabError of kind permission_denied.
func (s *Service) Check(ctx context.Context, userID, listID string, action model.Action) error {
	m, ok, err := s.lookup.MembershipFor(ctx, listID, userID)
	if err != nil {
		return collaberr.Wrap(collaberr.KindTransientError, "membership lookup failed", err)
	}
	if !ok {
		return collaberr.New(collaberr.KindPermissionDenied, fmt.Sprintf("user %s is not a member of list %s", userID, listID))
	}
	if !roleActions[m.Role][action] {
		return collaberr.New(collaberr.KindPermissionDenied, fmt.Sprintf("role %s may not %s", m.Role, action))
	}
	return nil
}

// IsOwner is a convenience for delete_list, which is owner-gated rather
// than merely write-gated.
func (s *Service) IsOwner(ctx context.Context, userID, listID string) (bool, error) {
	m, ok, err := s.lookup.MembershipFor(ctx, listID, userID)
	if err != nil {
		return false, collaberr.Wrap(collaberr.KindTransientError, "membership lookup failed", err)
	}
	return ok && m.Role == model.RoleOwner, nil
}
