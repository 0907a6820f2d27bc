package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/events"
)

// session owns one WebSocket connection. Reads and writes run in their own
// goroutines so a slow client can't block delivery to others.
type session struct {
	id     string
	userID string
	conn   *websocket.Conn

	outbox chan events.Envelope

	writeMu sync.Mutex
}

func newSession(id, userID string, conn *websocket.Conn) *session {
	return &session{id: id, userID: userID, conn: conn, outbox: make(chan events.Envelope, 64)}
}

// send queues an outbound envelope for delivery; never blocks the caller
// for long, since the socket layer is cooperatively multitasked.
func (s *session) send(env events.Envelope) {
	select {
	case s.outbox <- env:
	default:
		log.Warn().Str("session_id", s.id).Msg("session outbox full, dropping event")
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.writeJSON(env); err != nil {
				log.Error().Err(err).Str("session_id", s.id).Msg("failed to write to session")
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) writeJSON(env events.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(env)
}

// readLoop blocks reading inbound envelopes until the connection closes,
// invoking handle for each one.
func (s *session) readLoop(handle func(events.Envelope)) {
	for {
		var env events.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Err(err).Str("session_id", s.id).Msg("session read loop ending")
			}
			return
		}
		handle(env)
	}
}

func (s *session) close() {
	close(s.outbox)
	_ = s.conn.Close()
}

// marshalEnvelope is a small helper so handlers can build an Envelope from a
// typed payload without importing encoding/json directly.
func marshalEnvelope(kind events.Kind, payload any) events.Envelope {
	env, err := events.Encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode outbound payload")
		raw, _ := json.Marshal(events.ErrorPayload{Message: "failed to encode event"})
		return events.Envelope{Type: events.KindError, Payload: raw}
	}
	return env
}
