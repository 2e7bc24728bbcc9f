package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

type panicProducer struct{}

func (panicProducer) Send(context.Context, event.Event) error { panic("boom") }
func (panicProducer) TrySend(event.Event) bool                { panic("boom") }
func (panicProducer) Close()                                  {}

type recordingArchiver struct{ got []event.Event }

func (a *recordingArchiver) Enqueue(ev event.Event) { a.got = append(a.got, ev) }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func newTestRouter(durable, broadcast dispatch.Producer[event.Event], opts ...Option) (*Router, *metrics.Metrics) {
	m := metrics.NewUnregistered()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithRoomID(42)}, opts...)
	return New(durable, broadcast, m, zap.NewNop(), opts...), m
}

func TestHandleDeliversToBothChannels(t *testing.T) {
	durable := dispatch.New[event.Event](dispatch.Options{Name: "durable", Capacity: 10})
	broadcast := dispatch.New[event.Event](dispatch.Options{Name: "broadcast", Capacity: 10, FullMode: dispatch.DropWrite})
	r, m := newTestRouter(durable, broadcast)

	if err := r.Handle(context.Background(), event.Chat{Text: "hi"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	d, err := durable.TryReceive()
	if err != nil {
		t.Fatalf("durable receive: %v", err)
	}
	b, err := broadcast.TryReceive()
	if err != nil {
		t.Fatalf("broadcast receive: %v", err)
	}
	chat := d.(event.Chat)
	if chat.RoomID != 42 || !chat.EventTime.Equal(fixedNow.Truncate(time.Millisecond)) {
		t.Fatalf("event not stamped: %+v", chat.Envelope)
	}
	if b.(event.Chat).Text != "hi" {
		t.Fatalf("broadcast got %+v", b)
	}
	if got := testutil.ToFloat64(m.EventsIngested.WithLabelValues("chat")); got != 1 {
		t.Fatalf("ingested = %v, want 1", got)
	}
}

func TestHandleCountsBroadcastDropsWithoutBlocking(t *testing.T) {
	durable := dispatch.New[event.Event](dispatch.Options{Name: "durable"})
	broadcast := dispatch.New[event.Event](dispatch.Options{Name: "broadcast", Capacity: 2, FullMode: dispatch.DropWrite})
	r, m := newTestRouter(durable, broadcast)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := r.Handle(context.Background(), event.Social{SocialType: event.SocialLike}); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handle blocked for %v", elapsed)
	}

	if got := testutil.ToFloat64(m.BroadcastDropped.WithLabelValues("social")); got != 3 {
		t.Fatalf("dropped = %v, want 3", got)
	}
	if durable.Len() != 5 {
		t.Fatalf("durable len = %d, want 5", durable.Len())
	}
	if broadcast.Len() != 2 {
		t.Fatalf("broadcast len = %d, want 2", broadcast.Len())
	}
}

func TestHandleBlocksOnFullDurableUntilCancelled(t *testing.T) {
	durable := dispatch.New[event.Event](dispatch.Options{Name: "durable", Capacity: 1})
	r, m := newTestRouter(durable, nil)

	if err := r.Handle(context.Background(), event.Gift{GiftID: 1}); err != nil {
		t.Fatalf("first handle: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Handle(ctx, event.Gift{GiftID: 2}) }()

	select {
	case err := <-done:
		t.Fatalf("handle returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handle did not return after cancel")
	}
	if durable.Len() != 1 {
		t.Fatalf("cancelled event was enqueued")
	}
	if got := testutil.ToFloat64(m.RouteFailures.WithLabelValues("gift")); got != 1 {
		t.Fatalf("route failures = %v, want 1", got)
	}
}

func TestHandleReturnsClosedButStillBroadcasts(t *testing.T) {
	durable := dispatch.New[event.Event](dispatch.Options{Name: "durable"})
	broadcast := dispatch.New[event.Event](dispatch.Options{Name: "broadcast"})
	durable.Close()
	r, _ := newTestRouter(durable, broadcast)

	err := r.Handle(context.Background(), event.RoomStats{ViewerCount: 3})
	if !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if broadcast.Len() != 1 {
		t.Fatalf("broadcast skipped after durable failure")
	}
}

func TestHandleRecoversFromPanics(t *testing.T) {
	arch := &recordingArchiver{}
	r, m := newTestRouter(panicProducer{}, panicProducer{}, WithArchiver(arch))

	if err := r.Handle(context.Background(), event.Control{ControlType: event.ControlLiveStart}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(arch.got) != 1 {
		t.Fatalf("archiver got %d events, want 1", len(arch.got))
	}
	if got := testutil.ToFloat64(m.EventsIngested.WithLabelValues("control")); got != 1 {
		t.Fatalf("ingested = %v, want 1", got)
	}
}

func TestHandleRejectsNil(t *testing.T) {
	durable := dispatch.New[event.Event](dispatch.Options{Name: "durable"})
	r, _ := newTestRouter(durable, nil)

	if err := r.Handle(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Fatalf("err = %v, want ErrNilEvent", err)
	}
	if durable.Len() != 0 {
		t.Fatalf("nil event was enqueued")
	}
}
