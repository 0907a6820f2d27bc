// Package server wires the cache, coordinator, permission, and pub/sub
// layers together behind the WebSocket event dispatcher, and exposes the
// operational HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/auth"
	"github.com/yongtao-wang/collab-todo/internal/coordinator"
	"github.com/yongtao-wang/collab-todo/internal/events"
	"github.com/yongtao-wang/collab-todo/internal/handlers"
	"github.com/yongtao-wang/collab-todo/internal/metrics"
	"github.com/yongtao-wang/collab-todo/internal/permission"
	"github.com/yongtao-wang/collab-todo/internal/pubsub"
	"github.com/yongtao-wang/collab-todo/internal/repository"
	"github.com/yongtao-wang/collab-todo/internal/sharedstore"
	"github.com/yongtao-wang/collab-todo/internal/state"
	"github.com/yongtao-wang/collab-todo/internal/writebehind"
)

// Server is the fully-wired collab node: a single, explicitly constructed
// value holding L1, the connection registry, and the component handles,
// passed to handlers rather than relying on package globals.
type Server struct {
	cfg *Config

	repo       *repository.Repository
	shared     *sharedstore.Store
	l1         *state.Manager
	coord      *coordinator.Coordinator
	perm       *permission.Service
	worker     *writebehind.Worker
	listener   *pubsub.Listener
	dispatcher *handlers.Dispatcher
	verifier   *auth.Verifier
	metrics    *metrics.Metrics

	sessMu   sync.Mutex
	sessions map[string]*session

	upgrader websocket.Upgrader

	readyMu       sync.Mutex
	workerReady   bool
	listenerReady bool
}

// Config carries the subset of internal/config.Config the server needs,
// named locally to avoid a hard dependency on the config package's env
// loading in tests.
type Config struct {
	CORSOrigins   []string
	ShutdownDrain time.Duration
}

// New wires every component together from already-opened resources.
func New(cfg *Config, repo *repository.Repository, shared *sharedstore.Store, authSecret string, writerQueueSize int) *Server {
	l1 := state.New()
	m := metrics.New()
	worker := writebehind.New(repo, writerQueueSize, m)
	coord := coordinator.New(repo, shared, l1, worker, m)
	perm := permission.New(coord)

	s := &Server{
		cfg:      cfg,
		repo:     repo,
		shared:   shared,
		l1:       l1,
		coord:    coord,
		perm:     perm,
		worker:   worker,
		verifier: auth.NewVerifier(authSecret),
		metrics:  m,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	s.listener = pubsub.New(shared, l1, s)
	s.dispatcher = handlers.New(coord, perm, l1, m, s)
	return s
}

// Run starts the pub/sub listener and write-behind worker, then blocks
// serving HTTP/WebSocket until ctx is cancelled. Shutdown order: stop
// accepting connections, stop the listener, drain the worker, then close
// stores (the caller owns closing repo/shared after Run returns).
func (s *Server) Run(ctx context.Context, addr string) error {
	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	var listenerWG, workerWG sync.WaitGroup

	listenerWG.Add(1)
	go func() {
		defer listenerWG.Done()
		s.readyMu.Lock()
		s.listenerReady = true
		s.readyMu.Unlock()
		s.listener.Run(listenerCtx)
	}()

	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		s.readyMu.Lock()
		s.workerReady = true
		s.readyMu.Unlock()
		s.worker.Run(workerCtx, s.cfg.ShutdownDrain)
	}()

	httpServer := &http.Server{Addr: addr, Handler: s.router()}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	stopListener()
	listenerWG.Wait()
	stopWorker()
	workerWG.Wait()
	return nil
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/ready").HandlerFunc(s.handleReady)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	r.Methods(http.MethodGet).Path("/cache").HandlerFunc(s.handleCache)
	r.Methods(http.MethodGet).Path("/rooms").HandlerFunc(s.handleRooms)
	r.Methods(http.MethodPost).Path("/cache/flush").HandlerFunc(s.handleCacheFlush)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWebSocket)
	return r
}

// Deliver implements pubsub.Deliverer and Reply implements handlers.Replier:
// both route an outbound event to a session on this node, if it's still
// connected.
func (s *Server) Deliver(sessionID string, kind events.Kind, payload any) {
	s.Reply(sessionID, kind, payload)
}

func (s *Server) Reply(sessionID string, kind events.Kind, payload any) {
	s.sessMu.Lock()
	sess, ok := s.sessions[sessionID]
	s.sessMu.Unlock()
	if !ok {
		return
	}
	sess.send(marshalEnvelope(kind, payload))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("auth")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	userID, err := s.verifier.VerifyToken(token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	sessionID := uuid.NewString()
	sess := newSession(sessionID, userID, conn)

	s.sessMu.Lock()
	s.sessions[sessionID] = sess
	s.sessMu.Unlock()
	s.l1.AddConnection(sessionID, userID)
	s.metrics.Connections.Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writeLoop(ctx)
	}()

	sess.send(marshalEnvelope(events.KindConnected, map[string]string{"session_id": sessionID, "user_id": userID}))

	sess.readLoop(func(env events.Envelope) {
		s.dispatcher.Dispatch(r.Context(), sessionID, userID, env)
	})

	cancel()
	wg.Wait()

	s.sessMu.Lock()
	delete(s.sessions, sessionID)
	s.sessMu.Unlock()
	s.l1.UnsubscribeAll(sessionID)
	s.metrics.Connections.Dec()
	sess.close()
}

type healthResponse struct {
	Status          string  `json:"status"`
	SharedStore     bool    `json:"shared_store"`
	WriteWorker     bool    `json:"write_worker"`
	PubSub          bool    `json:"pubsub_listener"`
	QueueSize       int     `json:"write_queue_size"`
	WritesProcessed float64 `json:"writes_processed"`
	WritesFailed    float64 `json:"writes_failed"`
	Connections     int     `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sharedOK := s.shared != nil
	if sharedOK {
		sctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.shared.Clock(sctx); err != nil {
			sharedOK = false
		}
	}
	s.readyMu.Lock()
	workerOK, pubsubOK := s.workerReady, s.listenerReady
	s.readyMu.Unlock()

	resp := healthResponse{
		Status:          "ok",
		SharedStore:     sharedOK,
		WriteWorker:     workerOK,
		PubSub:          pubsubOK,
		QueueSize:       s.worker.QueueLen(),
		WritesProcessed: s.metrics.WritesProcessedCount(),
		WritesFailed:    s.metrics.WritesFailedCount(),
		Connections:     s.l1.ConnectionCount(),
	}
	if !sharedOK || !workerOK || !pubsubOK {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.readyMu.Lock()
	ready := s.workerReady && s.listenerReady
	s.readyMu.Unlock()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.l1.CacheSnapshotSummary())
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.l1.RoomCounts())
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	for _, listID := range s.l1.ListIDs() {
		if err := s.shared.FlushList(r.Context(), listID); err != nil {
			log.Warn().Err(err).Str("list_id", listID).Msg("failed to flush shared store entry")
		}
	}
	s.l1.DropAllCache()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}
