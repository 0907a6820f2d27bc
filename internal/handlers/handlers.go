// Package handlers routes each inbound event type, orchestrating
// auth -> validate -> permission -> coordinator -> reply.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/auth"
	"github.com/yongtao-wang/collab-todo/internal/collaberr"
	"github.com/yongtao-wang/collab-todo/internal/coordinator"
	"github.com/yongtao-wang/collab-todo/internal/events"
	"github.com/yongtao-wang/collab-todo/internal/metrics"
	"github.com/yongtao-wang/collab-todo/internal/model"
	"github.com/yongtao-wang/collab-todo/internal/permission"
	"github.com/yongtao-wang/collab-todo/internal/state"
	"github.com/yongtao-wang/collab-todo/internal/validation"
)

// Replier sends an outbound event to the requesting session. Pub/sub-only
// side effects (share_list, delete_list) go through the coordinator's
// shared store instead.
type Replier interface {
	Reply(sessionID string, kind events.Kind, payload any)
}

// Dispatcher routes one inbound envelope per session to the handler for
// its event kind.
type Dispatcher struct {
	coord      *coordinator.Coordinator
	perm       *permission.Service
	l1         *state.Manager
	metrics    *metrics.Metrics
	replier    Replier
}

func New(coord *coordinator.Coordinator, perm *permission.Service, l1 *state.Manager, m *metrics.Metrics, replier Replier) *Dispatcher {
	return &Dispatcher{coord: coord, perm: perm, l1: l1, metrics: m, replier: replier}
}

// Dispatch decodes and routes one envelope. Every handler is wrapped so an
// uncaught panic becomes internal_error and the socket stays open.
// userID is re-validated against the connection registry before routing,
// since the only other place it's known is the closure captured once at
// WebSocket upgrade.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, userID string, env events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(env.Type)).Msg("handler panicked")
			d.replier.Reply(sessionID, events.KindError, events.ErrorPayload{Message: "internal error", Kind: string(collaberr.KindInternalError)})
		}
	}()

	boundUserID, err := auth.CheckSessionBound(d.l1, sessionID)
	if err != nil {
		d.replyError(sessionID, err)
		return
	}
	userID = boundUserID

	switch env.Type {
	case events.KindJoin:
		err = d.handleJoin(ctx, sessionID, userID)
	case events.KindJoinList:
		err = d.handleJoinList(ctx, sessionID, userID, env.Payload)
	case events.KindCreateList:
		err = d.handleCreateList(ctx, sessionID, userID, env.Payload)
	case events.KindShareList:
		err = d.handleShareList(ctx, sessionID, userID, env.Payload)
	case events.KindAddItem:
		err = d.handleAddItem(ctx, sessionID, userID, env.Payload)
	case events.KindUpdateItem:
		err = d.handleUpdateItem(ctx, sessionID, userID, env.Payload)
	case events.KindDeleteItem:
		err = d.handleDeleteItem(ctx, sessionID, userID, env.Payload)
	case events.KindDeleteList:
		err = d.handleDeleteList(ctx, sessionID, userID, env.Payload)
	default:
		err = collaberr.New(collaberr.KindValidationError, fmt.Sprintf("unknown event type %q", env.Type))
	}

	if err != nil {
		d.replyError(sessionID, err)
	}
}

func (d *Dispatcher) replyError(sessionID string, err error) {
	ce, ok := collaberr.As(err)
	if !ok {
		ce = collaberr.New(collaberr.KindInternalError, err.Error())
		log.Error().Err(err).Msg("unclassified handler error")
	}
	kind := events.KindError
	switch ce.Kind {
	case collaberr.KindAuthError:
		kind = events.KindAuthError
	case collaberr.KindPermissionDenied:
		kind = events.KindPermissionError
	case collaberr.KindValidationError:
		kind = events.KindValidationError
	}
	d.replier.Reply(sessionID, kind, events.ErrorPayload{Message: ce.Message, Kind: string(ce.Kind), Fields: ce.Fields})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, collaberr.Wrap(collaberr.KindValidationError, "malformed payload", err)
	}
	return v, nil
}

func (d *Dispatcher) snapshotPayload(entry model.ListCacheEntry) events.ListSnapshotPayload {
	items := make(map[string]json.RawMessage, len(entry.Items))
	for id, it := range entry.Items {
		if it.IsDeleted {
			continue
		}
		raw, _ := json.Marshal(it)
		items[id] = raw
	}
	return events.ListSnapshotPayload{ListID: entry.ListID, ListName: entry.ListName, Items: items, Rev: formatRev(entry.Rev)}
}

func formatRev(rev float64) string {
	return fmt.Sprintf("%.6f", rev)
}

func (d *Dispatcher) handleJoin(ctx context.Context, sessionID, userID string) error {
	lists, err := d.coord.ListsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, l := range lists {
		if err := d.perm.Check(ctx, userID, l.ListID, model.ActionRead); err != nil {
			continue // skip lists the user can no longer read rather than failing the whole join
		}
		entry, err := d.coord.SnapshotList(ctx, l.ListID)
		if err != nil {
			continue
		}
		d.l1.Subscribe(sessionID, l.ListID)
		d.replier.Reply(sessionID, events.KindListSnapshot, d.snapshotPayload(entry))
	}
	return nil
}

func (d *Dispatcher) handleJoinList(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.JoinListPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := d.perm.Check(ctx, userID, p.ListID, model.ActionRead); err != nil {
		return err
	}
	entry, err := d.coord.SnapshotList(ctx, p.ListID)
	if err != nil {
		return err
	}
	d.l1.Subscribe(sessionID, p.ListID)
	d.replier.Reply(sessionID, events.KindListSnapshot, d.snapshotPayload(entry))
	return nil
}

func (d *Dispatcher) handleCreateList(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.CreateListPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	entry, err := d.coord.CreateList(ctx, userID, p.ListName)
	if err != nil {
		return err
	}
	d.l1.Subscribe(sessionID, entry.ListID)
	d.replier.Reply(sessionID, events.KindListCreated, events.ListCreatedPayload{
		ListID: entry.ListID, ListName: entry.ListName, Items: map[string]json.RawMessage{}, Rev: formatRev(entry.Rev),
	})
	return nil
}

func (d *Dispatcher) handleShareList(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.ShareListPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := d.perm.Check(ctx, userID, p.ListID, model.ActionShare); err != nil {
		return err
	}
	if err := d.coord.ShareList(ctx, p.ListID, p.UserID, model.Role(p.Role)); err != nil {
		return err
	}
	message := fmt.Sprintf("%s shared list %s with you", userID, p.ListID)
	if err := d.coord.Shared().Publish(ctx, sharedMessage{Type: "list_shared", ListID: p.ListID, UserID: p.UserID, Message: message}); err != nil {
		log.Warn().Err(err).Msg("failed to publish list_shared")
	}
	d.replier.Reply(sessionID, events.KindListShareSuccess, events.ListShareSuccessPayload{ListID: p.ListID, SharedWith: p.UserID, Message: message})
	return nil
}

type sharedMessage struct {
	Type    string `json:"type"`
	ListID  string `json:"list_id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (d *Dispatcher) handleAddItem(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.AddItemPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := d.perm.Check(ctx, userID, p.ListID, model.ActionWrite); err != nil {
		return err
	}
	_, _, err = d.coord.AddItem(ctx, p.ListID, model.TodoItem{Name: p.Name, Description: p.Description})
	return err
}

func (d *Dispatcher) handleUpdateItem(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.UpdateItemPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := d.perm.Check(ctx, userID, p.ListID, model.ActionWrite); err != nil {
		return err
	}

	entry, err := d.coord.CheckAndLoadListCache(ctx, p.ListID, 0)
	if err != nil {
		return err
	}

	if p.Rev != nil {
		clientRev := parseRev(*p.Rev)
		if clientRev < entry.Rev {
			d.metrics.RevisionConflicts.Inc()
			d.replier.Reply(sessionID, events.KindListSnapshot, d.snapshotPayload(entry))
			return collaberr.New(collaberr.KindRevisionConflict, "client revision is stale")
		}
	}

	_, _, err = d.coord.UpdateItem(ctx, p.ListID, p.ItemID, p.Patch())
	return err
}

func (d *Dispatcher) handleDeleteItem(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.DeleteItemPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := d.perm.Check(ctx, userID, p.ListID, model.ActionWrite); err != nil {
		return err
	}
	_, err = d.coord.DeleteItem(ctx, p.ListID, p.ItemID)
	return err
}

func (d *Dispatcher) handleDeleteList(ctx context.Context, sessionID, userID string, raw json.RawMessage) error {
	p, err := decode[events.DeleteListPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.Validate(p); err != nil {
		return err
	}
	isOwner, err := d.perm.IsOwner(ctx, userID, p.ListID)
	if err != nil {
		return err
	}
	if !isOwner {
		return collaberr.New(collaberr.KindPermissionDenied, "only the owner may delete a list")
	}
	if err := d.coord.SoftDeleteList(ctx, p.ListID); err != nil {
		return err
	}
	return d.coord.Shared().Publish(ctx, sharedMessage{Type: "list_deleted", ListID: p.ListID})
}

func parseRev(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
