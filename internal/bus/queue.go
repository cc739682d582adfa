// Package bus provides the in-process plumbing between the ingest surface
// and the engine: a buffered delivery queue drained by a worker pool, and
// a topic event bus for relay sinks.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatinbox/internal/domain"
)

const defaultPublishTimeout = 5 * time.Second

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

// Delivery is one accepted webhook delivery awaiting processing.
type Delivery struct {
	Tenant   domain.Tenant
	Envelope domain.RawEventEnvelope
	Received time.Time
}

// Queue buffers deliveries between the HTTP handler and the workers.
type Queue struct {
	deliveries     chan Delivery
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

// NewQueue creates a Queue holding up to size deliveries.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		deliveries:     make(chan Delivery, size),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish enqueues d. When the queue is full it waits up to the publish
// timeout before giving up with ErrQueueFull.
func (q *Queue) Publish(ctx context.Context, d Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.deliveries <- d:
		return nil
	default:
	}

	q.logger.Warn("ingest queue full, waiting", "tenant", d.Tenant.ID, "type", d.Envelope.Type)
	timer := time.NewTimer(q.publishTimeout)
	defer timer.Stop()
	select {
	case q.deliveries <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		q.logger.Error("delivery dropped: ingest queue full", "tenant", d.Tenant.ID, "type", d.Envelope.Type)
		return ErrQueueFull
	}
}

// Len reports the number of buffered deliveries.
func (q *Queue) Len() int {
	return len(q.deliveries)
}

// Run starts workers goroutines that pass each delivery to handle. It
// returns once the queue is closed and drained, or ctx is done, and all
// workers have exited.
func (q *Queue) Run(ctx context.Context, workers int, handle func(context.Context, Delivery)) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-q.deliveries:
					if !ok {
						return
					}
					q.dispatch(ctx, id, d, handle)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context, worker int, d Delivery, handle func(context.Context, Delivery)) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("ingest worker panic", "worker", worker, "tenant", d.Tenant.ID, "panic", r)
		}
	}()
	handle(ctx, d)
}

// Close stops accepting deliveries. Buffered deliveries are still handed
// to running workers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.deliveries)
	}
}
