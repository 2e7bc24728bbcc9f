package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

// ErrNilEvent is returned by Handle when the source hands over nothing
var ErrNilEvent = errors.New("router: nil event")

// Archiver receives a copy of every routed event. Enqueue must not block.
type Archiver interface {
	Enqueue(ev event.Event)
}

// Router fans each incoming event out to the durable and broadcast channels
type Router struct {
	durable   dispatch.Producer[event.Event]
	broadcast dispatch.Producer[event.Event]
	archive   Archiver
	metrics   *metrics.Metrics
	log       *zap.Logger

	roomID uint64
	now    func() time.Time
}

// Option customises a Router
type Option func(*Router)

// WithArchiver also hands every event to a raw archiver
func WithArchiver(a Archiver) Option {
	return func(r *Router) { r.archive = a }
}

// WithRoomID sets the room id stamped onto events that carry none
func WithRoomID(id uint64) Option {
	return func(r *Router) { r.roomID = id }
}

// WithClock overrides the time source used for stamping
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router. broadcast may be nil when no live consumers exist.
func New(durable, broadcast dispatch.Producer[event.Event], m *metrics.Metrics, log *zap.Logger, opts ...Option) *Router {
	r := &Router{
		durable:   durable,
		broadcast: broadcast,
		metrics:   m,
		log:       log.Named("router"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes one event. It blocks while the durable channel is full. The
// durable and broadcast sends are independent: a failure in one never skips
// the other. A non-nil error means the event could not be queued for the
// store because ctx ended or the channel was closed, and the caller should
// stop feeding the router.
func (r *Router) Handle(ctx context.Context, ev event.Event) error {
	if ev == nil {
		r.log.Warn("dropping nil event")
		return ErrNilEvent
	}
	ev = event.Stamp(ev, r.roomID, r.now())
	kind := ev.Kind().String()
	r.metrics.EventsIngested.WithLabelValues(kind).Inc()

	var routeErr error
	r.guard("durable", kind, func() {
		routeErr = r.sendDurable(ctx, ev, kind)
	})
	r.guard("broadcast", kind, func() {
		if r.broadcast != nil && !r.broadcast.TrySend(ev) {
			r.metrics.BroadcastDropped.WithLabelValues(kind).Inc()
			r.log.Debug("broadcast channel full, event dropped", zap.String("kind", kind))
		}
	})
	if r.archive != nil {
		r.guard("archive", kind, func() { r.archive.Enqueue(ev) })
	}
	return routeErr
}

func (r *Router) sendDurable(ctx context.Context, ev event.Event, kind string) error {
	err := r.durable.Send(ctx, ev)
	if err == nil {
		return nil
	}
	r.metrics.RouteFailures.WithLabelValues(kind).Inc()
	if errors.Is(err, dispatch.ErrClosed) || ctx.Err() != nil {
		r.log.Warn("durable channel unavailable, event not delivered", zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("route %s event: %w", kind, err)
	}
	r.log.Error("failed to queue event for store", zap.String("kind", kind), zap.Error(err))
	return nil
}

// guard runs one routing step, turning a panic into an error log so a bad
// event never takes down the ingest loop.
func (r *Router) guard(step, kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("recovered panic while routing",
				zap.String("step", step), zap.String("kind", kind), zap.Any("panic", p))
		}
	}()
	fn()
}
