package worker

import (
	"context"
	"log/slog"
	"time"

	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/circuit"
)

// FailureCounter counts entries that could not be written, by destination.
type FailureCounter interface {
	IncrementAuditFailures(destination string)
}

// Worker drains an inbox of entries into the store and, when configured,
// mirrors each one to a sink behind a circuit breaker. Failures are logged
// and counted; they never stop the loop.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Entry
	sink    audit.Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics FailureCounter
	now     func() time.Time
}

type Option func(*Worker)

// WithSink mirrors entries to sink. A nil breaker gets the package defaults.
func WithSink(sink audit.Sink, breaker *circuit.Breaker) Option {
	return func(w *Worker) {
		w.sink = sink
		if breaker == nil {
			breaker = circuit.New("audit-sink")
		}
		w.breaker = breaker
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m FailureCounter) Option {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(store audit.Store, inbox <-chan audit.Entry, opts ...Option) *Worker {
	w := &Worker{
		store:  store,
		inbox:  inbox,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes entries until the inbox is closed and drained. Cancelling
// ctx does not stop the loop early; it only bounds each write.
func (w *Worker) Run(ctx context.Context) error {
	for entry := range w.inbox {
		w.Handle(context.WithoutCancel(ctx), entry)
	}
	return nil
}

// Handle writes one entry to the store and the sink.
func (w *Worker) Handle(ctx context.Context, entry audit.Entry) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.store.Append(writeCtx, entry); err != nil {
		w.fail("store", entry, err)
	}
	if w.sink == nil {
		return
	}
	if !w.breaker.Allow(w.now()) {
		return
	}
	if err := w.sink.Write(writeCtx, entry); err != nil {
		w.fail("sink", entry, err)
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.Warn("audit sink circuit opened", "breaker", w.breaker.Name())
		}
		return
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.Info("audit sink circuit closed", "breaker", w.breaker.Name())
	}
}

func (w *Worker) fail(destination string, entry audit.Entry, err error) {
	w.logger.Error("audit write failed",
		"destination", destination,
		"action", string(entry.Action),
		"entity", entry.Entity,
		"request_id", entry.RequestID,
		"error", err,
	)
	if w.metrics != nil {
		w.metrics.IncrementAuditFailures(destination)
	}
}
