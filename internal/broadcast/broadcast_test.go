package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

func TestPublishDropsForFullSubscriber(t *testing.T) {
	m := metrics.NewUnregistered()
	h := NewHub(m, 1)
	slow := h.Subscribe()
	fast := h.Subscribe()

	if n := h.Publish([]byte("a")); n != 2 {
		t.Fatalf("first publish delivered %d, want 2", n)
	}
	<-fast.Out
	if n := h.Publish([]byte("b")); n != 1 {
		t.Fatalf("second publish delivered %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.SubscriberDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := string(<-slow.Out); got != "a" {
		t.Fatalf("slow subscriber got %q, want a", got)
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	m := metrics.NewUnregistered()
	h := NewHub(m, 0)
	s := h.Subscribe()
	if testutil.ToFloat64(m.Subscribers) != 1 {
		t.Fatalf("subscriber gauge not updated")
	}

	h.Unsubscribe(s.ID)
	h.Unsubscribe(s.ID)
	if _, ok := <-s.Out; ok {
		t.Fatalf("queue still open")
	}
	if h.Len() != 0 || testutil.ToFloat64(m.Subscribers) != 0 {
		t.Fatalf("subscriber still counted")
	}
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame(event.Gift{Envelope: event.Envelope{RoomID: 4}, GiftID: 12, GiftName: "rose"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "gift" || got.Data["gift_name"] != "rose" || got.Data["room_id"] != float64(4) {
		t.Fatalf("unexpected frame %s", frame)
	}
}

func TestConsumerDrainsAndDisconnects(t *testing.T) {
	m := metrics.NewUnregistered()
	h := NewHub(m, 8)
	sub := h.Subscribe()
	ch := dispatch.New[event.Event](dispatch.Options{Name: "broadcast", Capacity: 8, FullMode: dispatch.DropWrite})
	ch.TrySend(event.Chat{Text: "one"})
	ch.TrySend(event.Social{SocialType: event.SocialFollow, Count: 1})
	ch.Close()

	c := NewConsumer(ch, h, m, zap.NewNop())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var types []string
	for frame := range sub.Out {
		var f struct{ Type string }
		if err := json.Unmarshal(frame, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		types = append(types, f.Type)
	}
	if strings.Join(types, ",") != "chat,social" {
		t.Fatalf("frames = %v", types)
	}
	if got := testutil.ToFloat64(m.BroadcastDelivered.WithLabelValues("chat")); got != 1 {
		t.Fatalf("delivered = %v, want 1", got)
	}
}

func TestWebsocketReceivesFrames(t *testing.T) {
	m := metrics.NewUnregistered()
	h := NewHub(m, 8)
	srv := httptest.NewServer(Handler(h, zap.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	frame, _ := EncodeFrame(event.RoomStats{ViewerCount: 10})
	h.Publish(frame)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"room_stats"`) {
		t.Fatalf("unexpected message %s", msg)
	}

	conn.Close()
	for h.Len() != 0 {
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatalf("subscriber not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
