// Package publisher is the entry point services use to record audit entries.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "gatehouse/pkg/domain"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/audit/worker"
)

// ErrBufferFull is returned by Emit when the async queue has no room.
var ErrBufferFull = errors.New("audit buffer full")

// DropCounter counts entries dropped because the queue was full.
type DropCounter interface {
	IncrementAuditDropped()
}

// Publisher writes entries synchronously by default. With WithAsyncBuffer it
// enqueues them for a background worker instead, and Emit never blocks.
type Publisher struct {
	store      audit.Store
	bufferSize int
	workerOpts []worker.Option
	logger     *slog.Logger
	drops      DropCounter

	queue     chan audit.Entry
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Option func(*Publisher)

// WithAsyncBuffer queues up to size entries for the background worker.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) { p.bufferSize = size }
}

// WithWorkerOptions configures the background worker (sink, metrics).
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(p *Publisher) { p.workerOpts = append(p.workerOpts, opts...) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithDropCounter(c DropCounter) Option {
	return func(p *Publisher) { p.drops = c }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.queue = make(chan audit.Entry, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.queue, append([]worker.Option{worker.WithLogger(p.logger)}, p.workerOpts...)...)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records entry. It fills in the id and timestamp when missing.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.ID.IsNil() {
		entry.ID = id.NewAuditEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if p.queue == nil {
		return p.store.Append(ctx, entry)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.drop(entry, "publisher closed")
	}
	select {
	case p.queue <- entry:
		return nil
	default:
		return p.drop(entry, "queue full")
	}
}

func (p *Publisher) drop(entry audit.Entry, reason string) error {
	if p.drops != nil {
		p.drops.IncrementAuditDropped()
	}
	p.logger.Warn("audit entry dropped", "reason", reason, "action", string(entry.Action), "request_id", entry.RequestID)
	return ErrBufferFull
}

// List reads back entries from the store.
func (p *Publisher) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	return p.store.List(ctx, filter)
}

// Close stops accepting entries and waits until the queue is drained.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.queue == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
	})
}
