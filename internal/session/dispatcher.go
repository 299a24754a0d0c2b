package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/geoattend/internal/attendance"
)

// Handler applies one event. *Manager implements it.
type Handler interface {
	Handle(ctx context.Context, ev attendance.Event) (Result, error)
}

// Dispatcher is the single-writer event loop in front of a Handler.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Events are handled in FIFO order. On a handler failure the error is logged
// with the event context and processing continues; the next presence signal
// or recovery run re-reads store truth, so nothing is retried here.
type Dispatcher struct {
	handler  Handler
	queue    *eventQueue
	logger   *slog.Logger
	observer func(attendance.Event, Result, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver registers a callback invoked after every handled event, from
// the Run goroutine.
func WithObserver(fn func(attendance.Event, Result, error)) DispatcherOption {
	return func(d *Dispatcher) { d.observer = fn }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher for h.
func NewDispatcher(h Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler: h,
		queue:   newEventQueue(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Enqueue submits an event. Returns false once the dispatcher is stopped.
func (d *Dispatcher) Enqueue(ev attendance.Event) bool {
	return d.queue.Enqueue(delivery{ID: newDeliveryID(), Event: ev})
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run processes events until ctx is cancelled or Stop is called. Events
// still queued when Stop is called are drained first.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting")

	for {
		if item, ok := d.queue.TryDequeue(); ok {
			d.process(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// A closed signal channel fires immediately; exit once drained.
			if d.queue.Len() == 0 && d.stopped() {
				d.logger.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after draining what is left.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

func (d *Dispatcher) stopped() bool {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.queue.closed
}

func (d *Dispatcher) process(ctx context.Context, item delivery) {
	res, err := d.handler.Handle(ctx, item.Event)
	if err != nil {
		d.logger.Error("event processing failed",
			"delivery_id", item.ID,
			"event", item.Event.Kind.String(),
			"zone_id", item.Event.ZoneID,
			"source", item.Event.Source,
			"error", err,
		)
	} else {
		d.logger.Debug("event processed",
			"delivery_id", item.ID,
			"event", item.Event.Kind.String(),
			"outcome", res.Outcome.String(),
		)
	}
	if d.observer != nil {
		d.observer(item.Event, res, err)
	}
}

func newDeliveryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
