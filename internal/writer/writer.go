// Package writer turns the durable event stream into periodic bulk writes.
// Events are grouped per kind and flushed when the buffered total reaches
// the batch size or when the wait timer fires, and once more on shutdown.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
	"github.com/john/streamtap/internal/store"
)

// State is the writer's position in its lifecycle
type State int32

const (
	StateStopped State = iota
	StateIdle
	StateAccumulating
	StateFlushing
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Config holds the flush thresholds
type Config struct {
	MaxBatchSize int
	MaxWait      time.Duration
	DrainTimeout time.Duration
}

const (
	DefaultMaxBatchSize = 5000
	DefaultMaxWait      = time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Writer drains the durable channel into the store
type Writer struct {
	source  dispatch.Consumer[event.Event]
	store   store.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config

	state atomic.Int32

	// Owned by the Run goroutine
	buf     batch
	timer   *time.Timer
	timerC  <-chan time.Time
	flushes int
}

// New creates a writer. Zero config values take the package defaults.
func New(source dispatch.Consumer[event.Event], st store.Store, m *metrics.Metrics, log *zap.Logger, cfg Config) *Writer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Writer{
		source:  source,
		store:   st,
		metrics: m,
		log:     log.Named("writer"),
		cfg:     cfg,
	}
}

// State returns the current lifecycle state
func (w *Writer) State() State { return State(w.state.Load()) }

// Running reports whether the run loop is alive
func (w *Writer) Running() bool { return w.State() != StateStopped }

func (w *Writer) setState(s State) { w.state.Store(int32(s)) }

// Run consumes events until the durable channel is closed and drained, or
// ctx is cancelled. Either way it performs one final flush before returning.
// It returns ctx.Err() only on the forced path.
func (w *Writer) Run(ctx context.Context) error {
	w.setState(StateIdle)
	defer w.setState(StateStopped)

	w.timer = time.NewTimer(w.cfg.MaxWait)
	w.timer.Stop()
	defer w.timer.Stop()

	w.log.Info("writer started",
		zap.Int("max_batch_size", w.cfg.MaxBatchSize),
		zap.Duration("max_wait", w.cfg.MaxWait))

	for {
		select {
		case <-ctx.Done():
			w.log.Warn("writer cancelled, draining what is queued")
			w.drain()
			return ctx.Err()

		case <-w.timerC:
			w.timerC = nil
			if w.buf.n > 0 {
				w.flush(ctx, "timer")
			}

		case <-w.source.Ready():
			ev, err := w.source.TryReceive()
			switch {
			case errors.Is(err, dispatch.ErrEmpty):
				// Another consumer took it
				continue
			case errors.Is(err, dispatch.ErrClosed):
				w.log.Info("durable channel closed, draining")
				w.drain()
				return nil
			case err != nil:
				w.log.Error("receive failed", zap.Error(err))
				continue
			}

			w.accept(ctx, ev)
			if w.buf.n >= w.cfg.MaxBatchSize {
				w.flush(ctx, "size")
			}
		}
	}
}

// accept buffers one event and applies its dimension side effects
func (w *Writer) accept(ctx context.Context, ev event.Event) {
	if ev == nil || !w.buf.add(ev) {
		w.log.Warn("ignoring unrecognised event", zap.String("type", fmt.Sprintf("%T", ev)))
		return
	}
	w.metrics.EventsBatched.WithLabelValues(ev.Kind().String()).Inc()

	if w.buf.n == 1 && w.State() != StateDraining {
		w.setState(StateAccumulating)
		w.timer.Reset(w.cfg.MaxWait)
		w.timerC = w.timer.C
	}

	w.sideEffects(ctx, ev)
}

func (w *Writer) sideEffects(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.Chat:
		w.upsertUser(ctx, e.UserID, e.Username, e.EventTime)
	case event.Social:
		w.upsertUser(ctx, e.UserID, e.Username, e.EventTime)
	case event.Subscription:
		w.upsertUser(ctx, e.UserID, e.Username, e.EventTime)
	case event.Gift:
		w.upsertUser(ctx, e.UserID, e.Username, e.EventTime)
		if e.GiftID != 0 {
			err := w.store.UpsertGift(ctx, store.GiftInfo{
				GiftID:      e.GiftID,
				Name:        e.GiftName,
				DiamondCost: e.DiamondCount,
			})
			w.warnSideEffect("upsert gift", err, zap.Uint32("gift_id", e.GiftID))
		}
	case event.Control:
		switch e.ControlType {
		case event.ControlLiveStart:
			err := w.store.UpsertRoom(ctx, store.Room{
				RoomID:    e.RoomID,
				Title:     e.Value,
				StartTime: e.EventTime,
			})
			w.warnSideEffect("upsert room", err, zap.Uint64("room_id", e.RoomID))
		case event.ControlLiveEnd:
			err := w.store.UpdateRoomEnd(ctx, e.RoomID, e.EventTime)
			w.warnSideEffect("update room end", err, zap.Uint64("room_id", e.RoomID))
		}
	}
}

func (w *Writer) upsertUser(ctx context.Context, id uint64, name string, seen time.Time) {
	if id == 0 {
		return
	}
	err := w.store.UpsertUser(ctx, store.User{UserID: id, Nickname: name, SeenAt: seen})
	w.warnSideEffect("upsert user", err, zap.Uint64("user_id", id))
}

func (w *Writer) warnSideEffect(op string, err error, field zap.Field) {
	if err != nil {
		w.log.Warn(op+" failed", field, zap.Error(err))
	}
}

// flush writes every non-empty kind concurrently and resets the buffers.
// Failures are logged and counted; the batch is not retried.
func (w *Writer) flush(ctx context.Context, reason string) {
	prev := w.State()
	w.setState(StateFlushing)
	w.timer.Stop()
	w.timerC = nil

	b := w.buf.take()
	w.flushes++
	w.metrics.QueueDepth.WithLabelValues("durable").Set(float64(w.source.Len()))

	start := time.Now()
	err := w.persist(ctx, &b)
	if err != nil {
		w.log.Error("flush completed with errors", zap.String("reason", reason), zap.Error(err))
	} else {
		w.log.Debug("flushed batch",
			zap.String("reason", reason),
			zap.Int("count", b.n),
			zap.Duration("took", time.Since(start)))
	}

	if prev == StateDraining {
		w.setState(StateDraining)
	} else {
		w.setState(StateIdle)
	}
}

func (w *Writer) persist(ctx context.Context, b *batch) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(kind event.Kind, fn func(context.Context) error) {
		n := b.count(kind)
		if n == 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := kind.String()
			if err := fn(ctx); err != nil {
				w.metrics.FlushFailures.WithLabelValues(label).Inc()
				w.log.Error("bulk persist failed, batch dropped",
					zap.String("kind", label), zap.Int("count", n), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("persist %s: %w", label, err))
				mu.Unlock()
				return
			}
			w.metrics.BatchesPersisted.WithLabelValues(label).Inc()
			w.metrics.EventsPersisted.WithLabelValues(label).Add(float64(n))
		}()
	}

	run(event.KindChat, func(ctx context.Context) error { return w.store.PersistChats(ctx, b.chats) })
	run(event.KindGift, func(ctx context.Context) error { return w.store.PersistGifts(ctx, b.gifts) })
	run(event.KindSocial, func(ctx context.Context) error { return w.store.PersistSocials(ctx, b.socials) })
	run(event.KindSubscription, func(ctx context.Context) error { return w.store.PersistSubscriptions(ctx, b.subscriptions) })
	run(event.KindControl, func(ctx context.Context) error { return w.store.PersistControls(ctx, b.controls) })
	run(event.KindRoomStats, func(ctx context.Context) error { return w.store.PersistRoomStats(ctx, b.roomStats) })

	wg.Wait()
	return errors.Join(errs...)
}

// drain pulls whatever is still queued without waiting and flushes it once
// on a fresh context bounded by DrainTimeout.
func (w *Writer) drain() {
	w.setState(StateDraining)
	w.timer.Stop()
	w.timerC = nil

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()

	pulled := 0
	for {
		ev, err := w.source.TryReceive()
		if err != nil {
			break
		}
		w.accept(ctx, ev)
		pulled++
	}

	if w.buf.n > 0 {
		w.flush(ctx, "shutdown")
	}
	w.log.Info("writer drained", zap.Int("pulled", pulled), zap.Int("flushes", w.flushes))
}
