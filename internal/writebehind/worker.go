// Package writebehind is a bounded-queue consumer that persists mutations
// to the repository layer asynchronously, with bookkeeping.
package writebehind

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yongtao-wang/collab-todo/internal/metrics"
	"github.com/yongtao-wang/collab-todo/internal/model"
)

// Op names the durable operation a queued job performs.
type Op string

const (
	OpCreateList     Op = "create_list"
	OpSoftDeleteList Op = "soft_delete_list"
	OpAddItem        Op = "add_item"
	OpUpdateItem     Op = "update_item"
	OpSoftDeleteItem Op = "soft_delete_item"
	OpAddMember      Op = "add_member"
)

// Job is a single queued durable write.
type Job struct {
	Op     Op
	List   model.TodoList
	Item   model.TodoItem
	Member model.Membership
	ItemID string
	ListID string
}

// Repository is the subset of internal/repository.Repository the worker
// drives. Declared locally so the worker package doesn't import sql types.
type Repository interface {
	CreateList(ctx context.Context, list model.TodoList) (model.TodoList, error)
	SoftDeleteList(ctx context.Context, listID string) error
	AddItem(ctx context.Context, item model.TodoItem) (model.TodoItem, error)
	UpdateItem(ctx context.Context, item model.TodoItem) (model.TodoItem, error)
	SoftDeleteItem(ctx context.Context, itemID string) error
	AddMember(ctx context.Context, m model.Membership) error
}

// Worker is the single-threaded write-behind consumer.
type Worker struct {
	repo    Repository
	queue   chan Job
	metrics *metrics.Metrics
	logger  zerolog.Logger

	done chan struct{}
}

// New constructs a worker with a bounded queue of the given size.
func New(repo Repository, queueSize int, m *metrics.Metrics) *Worker {
	return &Worker{
		repo:    repo,
		queue:   make(chan Job, queueSize),
		metrics: m,
		logger:  log.With().Str("component", "writebehind").Logger(),
		done:    make(chan struct{}),
	}
}

// QueueLen reports the current queue depth, for /health.
func (w *Worker) QueueLen() int {
	return len(w.queue)
}

// Enqueue attempts to queue job without blocking. If the queue is full it
// increments QueueOverflow and returns false; the caller has already
// committed the mutation to L1/L2, so this is a durability-not-liveness
// tradeoff.
func (w *Worker) Enqueue(job Job) bool {
	select {
	case w.queue <- job:
		w.metrics.QueueSize.Set(float64(len(w.queue)))
		return true
	default:
		w.metrics.QueueOverflow.Inc()
		w.logger.Warn().Str("op", string(job.Op)).Msg("write-behind queue full, dropping durable write")
		return false
	}
}

// Run consumes the queue until ctx is cancelled, then drains for up to
// drainTimeout before returning.
func (w *Worker) Run(ctx context.Context, drainTimeout time.Duration) {
	defer close(w.done)
	for {
		select {
		case job := <-w.queue:
			w.process(ctx, job)
		case <-ctx.Done():
			w.drain(drainTimeout)
			return
		}
	}
}

func (w *Worker) drain(timeout time.Duration) {
	deadline := time.After(timeout)
	bgCtx := context.Background()
	for {
		if len(w.queue) == 0 {
			return
		}
		select {
		case job := <-w.queue:
			w.process(bgCtx, job)
		case <-deadline:
			remaining := len(w.queue)
			if remaining > 0 {
				w.metrics.WritesDroppedOnShutdown.Add(float64(remaining))
				w.logger.Warn().Int("dropped", remaining).Msg("shutdown drain timed out")
			}
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	start := time.Now()
	var err error
	switch job.Op {
	case OpCreateList:
		_, err = w.repo.CreateList(ctx, job.List)
	case OpSoftDeleteList:
		err = w.repo.SoftDeleteList(ctx, job.ListID)
	case OpAddItem:
		_, err = w.repo.AddItem(ctx, job.Item)
	case OpUpdateItem:
		_, err = w.repo.UpdateItem(ctx, job.Item)
	case OpSoftDeleteItem:
		err = w.repo.SoftDeleteItem(ctx, job.ItemID)
	case OpAddMember:
		err = w.repo.AddMember(ctx, job.Member)
	}
	w.metrics.QueueSize.Set(float64(len(w.queue)))
	if err != nil {
		w.metrics.WritesFailed.Inc()
		w.logger.Error().Err(err).Str("op", string(job.Op)).Interface("payload", job).Dur("duration", time.Since(start)).
			Msg("durable write failed")
		return
	}
	w.metrics.WritesProcessed.Inc()
	w.logger.Debug().Str("op", string(job.Op)).Dur("duration", time.Since(start)).Msg("durable write committed")
}
