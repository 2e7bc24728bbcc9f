package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fails   int
	puts    int
}

func (m *memStore) Put(_ context.Context, key string, body []byte, ct string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if ct != "application/gzip" {
		return errors.New("wrong content type " + ct)
	}
	if m.fails > 0 {
		m.fails--
		return errors.New("slow down")
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NextID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "gen" + string(rune('0'+s.n)), nil
}

// gatedIDs blocks every allocation until release is closed
type gatedIDs struct {
	release chan struct{}
	seqIDs
}

func (g *gatedIDs) NextID() (string, error) {
	<-g.release
	return g.seqIDs.NextID()
}

var received = time.Date(2024, 3, 7, 23, 59, 0, 0, time.UTC)

func newService(st ObjectStore, opts Options) (*Service, *metrics.Metrics) {
	m := metrics.NewUnregistered()
	s := NewService(st, &seqIDs{}, m, zap.NewNop(), opts)
	s.now = func() time.Time { return received }
	return s, m
}

func runToCompletion(t *testing.T, s *Service) {
	t.Helper()
	s.Close()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("archive did not drain")
	}
}

func TestObjectKey(t *testing.T) {
	env := event.RawEnvelope{EventID: "77", ReceivedAt: received, RoomID: 12, EventType: "gift"}
	want := "raw/2024/03/07/12/gift/77.jsonl.gz"
	if got := ObjectKey(env); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestArchivesGzipJSONLine(t *testing.T) {
	st := &memStore{}
	s, m := newService(st, Options{Workers: 2, Backoff: time.Millisecond})

	s.Enqueue(event.Chat{Envelope: event.Envelope{RoomID: 5}, MessageID: 99, Text: "hello"})
	s.Enqueue(event.RoomStats{Envelope: event.Envelope{RoomID: 5}, ViewerCount: 3})
	runToCompletion(t, s)

	body, ok := st.objects["raw/2024/03/07/5/chat/99.jsonl.gz"]
	if !ok {
		t.Fatalf("chat object missing, have %v", keys(st.objects))
	}
	if _, ok := st.objects["raw/2024/03/07/5/room_stats/gen1.jsonl.gz"]; !ok {
		t.Fatalf("room stats object missing, have %v", keys(st.objects))
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if raw[len(raw)-1] != '\n' {
		t.Fatalf("object is not newline terminated")
	}
	var env event.RawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventID != "99" || env.EventType != "chat" || env.RoomID != 5 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if got := testutil.ToFloat64(m.Archived); got != 2 {
		t.Fatalf("archived = %v, want 2", got)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	st := &memStore{fails: 2}
	s, m := newService(st, Options{Workers: 1, MaxRetries: 3, Backoff: time.Millisecond})

	s.Enqueue(event.Gift{GiftID: 1})
	runToCompletion(t, s)

	if st.puts != 3 {
		t.Fatalf("puts = %d, want 3", st.puts)
	}
	if got := testutil.ToFloat64(m.ArchiveFailures); got != 0 {
		t.Fatalf("failures = %v, want 0", got)
	}
}

func TestGivesUpAfterRetries(t *testing.T) {
	st := &memStore{fails: 10}
	s, m := newService(st, Options{Workers: 1, MaxRetries: 1, Backoff: time.Millisecond})

	s.Enqueue(event.Social{SocialType: event.SocialShare})
	runToCompletion(t, s)

	if st.puts != 2 {
		t.Fatalf("puts = %d, want 2", st.puts)
	}
	if got := testutil.ToFloat64(m.ArchiveFailures); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

func TestEnqueueDoesNotWaitForIDs(t *testing.T) {
	st := &memStore{}
	ids := &gatedIDs{release: make(chan struct{})}
	m := metrics.NewUnregistered()
	s := NewService(st, ids, m, zap.NewNop(), Options{Workers: 1})
	s.now = func() time.Time { return received }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	enqueued := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Enqueue(event.Social{Envelope: event.Envelope{RoomID: 5}, SocialType: event.SocialFollow})
		}
		close(enqueued)
	}()
	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatalf("Enqueue blocked on id allocation")
	}

	close(ids.release)
	s.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("archive did not drain")
	}
	if got := testutil.ToFloat64(m.Archived); got != 5 {
		t.Fatalf("archived = %v, want 5", got)
	}
}

func TestEnqueueAfterCloseIsCounted(t *testing.T) {
	s, m := newService(&memStore{}, Options{})
	s.Close()
	s.Enqueue(event.Control{ControlType: event.ControlLiveEnd})
	if got := testutil.ToFloat64(m.ArchiveFailures); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

func TestRedisDeduperSkipsReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	st := &memStore{}
	s, m := newService(st, Options{Workers: 1, Deduper: NewRedisDeduper(cli, "", time.Hour)})

	chat := event.Chat{Envelope: event.Envelope{RoomID: 1}, MessageID: 42}
	s.Enqueue(chat)
	s.Enqueue(chat)
	runToCompletion(t, s)

	if st.puts != 1 {
		t.Fatalf("puts = %d, want 1", st.puts)
	}
	if got := testutil.ToFloat64(m.ArchiveSkipped); got != 1 {
		t.Fatalf("skipped = %v, want 1", got)
	}
	if !mr.Exists("streamtap:archived:42") {
		t.Fatalf("dedupe key not written")
	}
	if ttl := mr.TTL("streamtap:archived:42"); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}
}

func TestRedisDeduperForgetsFailedUploads(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	st := &memStore{fails: 1}
	s, _ := newService(st, Options{Workers: 1, MaxRetries: 0, Deduper: NewRedisDeduper(cli, "t:", 0)})

	s.Enqueue(event.Chat{MessageID: 7})
	runToCompletion(t, s)

	if mr.Exists("t:7") {
		t.Fatalf("dedupe mark kept after failed upload")
	}
}

func TestFlakeIDsAreUnique(t *testing.T) {
	ids, err := NewFlakeIDs(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := ids.NextID()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
