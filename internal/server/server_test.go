package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yongtao-wang/collab-todo/internal/events"
	"github.com/yongtao-wang/collab-todo/internal/metrics"
	"github.com/yongtao-wang/collab-todo/internal/model"
	"github.com/yongtao-wang/collab-todo/internal/state"
	"github.com/yongtao-wang/collab-todo/internal/writebehind"
)

func newTestServer() *Server {
	l1 := state.New()
	m := metrics.New()
	worker := writebehind.New(nil, 4, m)
	return &Server{
		cfg:      &Config{},
		l1:       l1,
		metrics:  m,
		worker:   worker,
		sessions: make(map[string]*session),
	}
}

func TestHandleHealthDegradedWithoutSharedStore(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"shared_store":false`)
}

func TestHandleReadyNotReadyUntilBothFlagsSet(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.readyMu.Lock()
	s.workerReady = true
	s.listenerReady = true
	s.readyMu.Unlock()

	rec = httptest.NewRecorder()
	s.handleReady(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCacheAndRooms(t *testing.T) {
	s := newTestServer()
	s.l1.PutCache(model.ListCacheEntry{ListID: "l1", Items: map[string]model.TodoItem{"a": {}}})
	s.l1.AddConnection("sess1", "u1")
	s.l1.Subscribe("sess1", "l1")

	req := httptest.NewRequest(http.MethodGet, "/cache", nil)
	rec := httptest.NewRecorder()
	s.handleCache(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"list_id":"l1"`)

	req = httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec = httptest.NewRecorder()
	s.handleRooms(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"l1":1`)
}

func TestReplyDeliversToRegisteredSessionOnly(t *testing.T) {
	s := newTestServer()
	sess := newSession("s1", "u1", nil)
	s.sessions["s1"] = sess

	s.Reply("s1", events.KindConnected, map[string]string{"session_id": "s1"})
	select {
	case env := <-sess.outbox:
		assert.Equal(t, events.KindConnected, env.Type)
	default:
		t.Fatal("expected an enqueued envelope")
	}

	// Unknown session: Reply must not panic and must not enqueue anywhere.
	assert.NotPanics(t, func() {
		s.Reply("unknown-session", events.KindConnected, nil)
	})
}

func TestMarshalEnvelopeFallsBackOnEncodeFailure(t *testing.T) {
	env := marshalEnvelope(events.KindConnected, map[string]any{"bad": make(chan int)})
	assert.Equal(t, events.KindError, env.Type)
}

func TestCORSMiddlewareWildcard(t *testing.T) {
	mw := corsMiddleware(nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareAllowlist(t *testing.T) {
	mw := corsMiddleware([]string{"https://allowed.example"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://not-allowed.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://allowed.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://allowed.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleHealthReflectsWorkerQueueSize(t *testing.T) {
	s := newTestServer()
	require.True(t, s.worker.Enqueue(writebehind.Job{Op: writebehind.OpAddItem}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Contains(t, rec.Body.String(), `"write_queue_size":1`)
}

func TestHandleHealthReflectsWriteCounters(t *testing.T) {
	s := newTestServer()
	s.metrics.WritesProcessed.Inc()
	s.metrics.WritesProcessed.Inc()
	s.metrics.WritesFailed.Inc()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Contains(t, rec.Body.String(), `"writes_processed":2`)
	assert.Contains(t, rec.Body.String(), `"writes_failed":1`)
}
