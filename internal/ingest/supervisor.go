// Package ingest keeps the configured source connected for the life of the process.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/john/streamtap/internal/source"
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultStopTimeout   = 5 * time.Second
)

// Supervisor starts a source, reconnects it when it drops and stops it on
// shutdown. Reconnects stay within one room session; only shutdown ends it.
type Supervisor struct {
	src         source.Source
	handler     source.Handler
	interval    time.Duration
	stopTimeout time.Duration
	log         *zap.Logger

	running  atomic.Bool
	restarts atomic.Int64
}

func New(src source.Source, h source.Handler, interval, stopTimeout time.Duration, log *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		src:         src,
		handler:     h,
		interval:    interval,
		stopTimeout: stopTimeout,
		log:         log.Named("ingest"),
	}
}

// Running reports whether the supervision loop is active
func (s *Supervisor) Running() bool { return s.running.Load() }

// Restarts returns how many times the source was reconnected
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Run blocks until ctx is cancelled, then stops the source with a fresh
// context bounded by the stop timeout so it can emit its final events.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.log.Info("starting source",
		zap.String("host", s.src.Host()),
		zap.Uint64("room_id", s.src.RoomID()))
	if err := s.src.Start(ctx, s.handler); err != nil {
		s.log.Error("source failed to start, will retry", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case <-ticker.C:
			if s.src.Connected() {
				continue
			}
			s.log.Warn("source disconnected, restarting", zap.String("host", s.src.Host()))
			s.disconnect()
			if ctx.Err() != nil {
				s.stop()
				return nil
			}
			if err := s.src.Start(ctx, s.handler); err != nil {
				s.log.Error("source restart failed", zap.Error(err))
				continue
			}
			s.restarts.Add(1)
		}
	}
}

// disconnect tears down a dropped connection without ending the session
func (s *Supervisor) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.src.Disconnect(ctx); err != nil {
		s.log.Warn("error disconnecting source", zap.Error(err))
	}
}

func (s *Supervisor) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.src.Stop(ctx); err != nil {
		s.log.Warn("error stopping source", zap.Error(err))
	}
}
