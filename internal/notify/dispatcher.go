// Package notify hands committed ticket events to external sinks (email,
// Kafka, live websocket clients). Delivery is asynchronous and best-effort:
// a slow or failing sink never blocks or fails the transition that produced
// the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citidesk/internal/config"
	"github.com/citidesk/pkg/models"
)

// Sink delivers one event to an external collaborator.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev models.Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Notify(ctx context.Context, ev models.Event) error { return f.Fn(ctx, ev) }

// Stats counts dispatcher activity since start.
type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher fans events out to its sinks from a bounded queue served by a
// fixed pool of workers.
type Dispatcher struct {
	sinks   []Sink
	events  chan models.Event
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		events:  make(chan models.Event, cfg.BufferSize),
		workers: cfg.Workers,
		timeout: cfg.SendTimeout,
		logger:  logger,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("notification dispatcher started", "workers", d.workers, "sinks", len(d.sinks))
}

// Notify queues ev for delivery and returns immediately. When the queue is
// full or the dispatcher is shut down the event is dropped and logged. The
// caller's context is not used for delivery, so a finished request does not
// cancel its notifications.
func (d *Dispatcher) Notify(_ context.Context, ev models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("dropping event after shutdown", "event_id", ev.ID, "kind", ev.Kind)
		return
	}

	select {
	case d.events <- ev:
		d.queued.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping event", "event_id", ev.ID, "kind", ev.Kind)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.events {
		for _, sink := range d.sinks {
			d.deliver(sink, ev)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panicked: %v", r)
			}
		}()
		return sink.Notify(ctx, ev)
	}()

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification failed",
			"sink", sink.Name(),
			"event_id", ev.ID,
			"kind", ev.Kind,
			"error", err,
		)
		return
	}
	d.delivered.Add(1)
}

// Shutdown stops accepting events and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher did not drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
