// Package source defines how live platforms hand events to the pipeline.
package source

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
)

// Handler receives every event a source produces, in arrival order
type Handler func(ctx context.Context, ev event.Event) error

// Source is a connection to one live room
type Source interface {
	// Start connects and begins delivering events to h without blocking.
	// The stream ends when ctx is cancelled or Stop is called. A nil h
	// logs events instead. LiveStart is emitted only on the first Start
	// of a session, not when reconnecting after Disconnect.
	Start(ctx context.Context, h Handler) error
	// Disconnect drops the connection and keeps the session open, so a
	// following Start resumes the same room without lifecycle events.
	Disconnect(ctx context.Context) error
	// Stop disconnects and ends the session with a LiveEnd control event.
	Stop(ctx context.Context) error
	Connected() bool
	RoomID() uint64
	Host() string
}

// LogHandler only logs what it receives
func LogHandler(log *zap.Logger) Handler {
	log = log.Named("events")
	return func(_ context.Context, ev event.Event) error {
		log.Info("event", zap.Stringer("kind", ev.Kind()), zap.Uint64("room_id", ev.Base().RoomID))
		return nil
	}
}

// Stopping reports whether a handler error means the pipeline no longer
// accepts events, as opposed to a failure of that one event.
func Stopping(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, dispatch.ErrClosed)
}

// Deliver calls h and logs a per-event failure. It returns false once the
// pipeline is stopping and the source should stop reading.
func Deliver(ctx context.Context, h Handler, ev event.Event, log *zap.Logger) bool {
	err := h(ctx, ev)
	if err == nil {
		return true
	}
	if Stopping(err) {
		log.Debug("handler is stopping", zap.Error(err))
		return false
	}
	log.Warn("handler rejected event", zap.Stringer("kind", ev.Kind()), zap.Error(err))
	return true
}
