// Package archive stores every routed event as a raw gzip JSON-lines object.
// Archiving is fire-and-forget: Enqueue never blocks the router and upload
// failures are only logged and counted.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/metrics"
)

const contentType = "application/gzip"

// ObjectStore is where archive objects end up
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Options tunes the upload workers
type Options struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration // First retry delay, doubled per attempt
	Deduper    Deduper       // Optional
}

type job struct {
	ev         event.Event
	receivedAt time.Time
}

// Service queues raw envelopes and uploads them in the background
type Service struct {
	store   ObjectStore
	ids     IDGenerator
	dedupe  Deduper
	queue   *dispatch.Channel[job]
	metrics *metrics.Metrics
	log     *zap.Logger
	opts    Options
	now     func() time.Time
}

// NewService creates an archive service with an unbounded queue
func NewService(st ObjectStore, ids IDGenerator, m *metrics.Metrics, log *zap.Logger, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Service{
		store:   st,
		ids:     ids,
		dedupe:  opts.Deduper,
		queue:   dispatch.New[job](dispatch.Options{Name: "archive"}),
		metrics: m,
		log:     log.Named("archive"),
		opts:    opts,
		now:     time.Now,
	}
}

// Enqueue queues ev without blocking. Id allocation and encoding happen
// on the workers.
func (s *Service) Enqueue(ev event.Event) {
	if !s.queue.TrySend(job{ev: ev, receivedAt: s.now()}) {
		s.metrics.ArchiveFailures.Inc()
		s.log.Warn("archive queue closed, event not archived", zap.Stringer("kind", ev.Kind()))
		return
	}
	s.metrics.QueueDepth.WithLabelValues("archive").Set(float64(s.queue.Len()))
}

// Close stops accepting events. Run returns once the queue is drained.
func (s *Service) Close() { s.queue.Close() }

// Run uploads queued envelopes with Workers goroutines until the queue is
// closed and drained, or ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("archive workers started", zap.Int("workers", s.opts.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.queue.Receive(ctx)
				if err != nil {
					return
				}
				s.archive(ctx, j)
			}
		}()
	}
	wg.Wait()

	s.log.Info("archive workers stopped", zap.Int("abandoned", s.queue.Len()))
	return ctx.Err()
}

func (s *Service) archive(ctx context.Context, j job) {
	id, natural := event.NaturalID(j.ev)
	if !natural {
		var err error
		if id, err = s.ids.NextID(); err != nil {
			s.metrics.ArchiveFailures.Inc()
			s.log.Warn("failed to allocate event id", zap.Stringer("kind", j.ev.Kind()), zap.Error(err))
			return
		}
	}

	env, err := event.NewRawEnvelope(j.ev, id, j.receivedAt)
	if err != nil {
		s.metrics.ArchiveFailures.Inc()
		s.log.Warn("failed to wrap event", zap.String("event_id", id), zap.Error(err))
		return
	}

	if natural && s.dedupe != nil {
		first, err := s.dedupe.FirstSeen(ctx, id)
		if err != nil {
			s.log.Warn("dedupe check failed, archiving anyway", zap.String("event_id", id), zap.Error(err))
		} else if !first {
			s.metrics.ArchiveSkipped.Inc()
			return
		}
	}

	body, err := encode(env)
	if err != nil {
		s.metrics.ArchiveFailures.Inc()
		s.log.Error("failed to encode envelope", zap.String("event_id", id), zap.Error(err))
		return
	}

	key := ObjectKey(env)
	if s.uploadWithRetry(ctx, key, body) {
		return
	}

	s.metrics.ArchiveFailures.Inc()
	if natural && s.dedupe != nil {
		// Let a later replay of the same message try again
		if err := s.dedupe.Forget(context.WithoutCancel(ctx), id); err != nil {
			s.log.Warn("failed to clear dedupe mark", zap.String("event_id", id), zap.Error(err))
		}
	}
}

// uploadWithRetry reports whether the object was stored
func (s *Service) uploadWithRetry(ctx context.Context, key string, body []byte) bool {
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		err := s.store.Put(ctx, key, body, contentType)
		if err == nil {
			s.metrics.Archived.Inc()
			s.log.Debug("archived event", zap.String("key", key))
			return true
		}

		if attempt < s.opts.MaxRetries {
			backoff := s.opts.Backoff << uint(attempt)
			s.log.Warn("archive upload failed, retrying",
				zap.String("key", key),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
			continue
		}
		s.log.Error("archive upload failed", zap.String("key", key), zap.Int("attempts", attempt+1), zap.Error(err))
	}
	return false
}

// ObjectKey files an envelope by receive date, room and type:
// raw/{yyyy}/{MM}/{dd}/{roomId}/{eventType}/{eventId}.jsonl.gz
func ObjectKey(env event.RawEnvelope) string {
	t := env.ReceivedAt.UTC()
	return fmt.Sprintf("raw/%04d/%02d/%02d/%d/%s/%s.jsonl.gz",
		t.Year(), t.Month(), t.Day(), env.RoomID, env.EventType, env.EventID)
}

func encode(env event.RawEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(gz).Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}
