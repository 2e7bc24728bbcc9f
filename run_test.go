package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAwaitDrainWaitsForFinalFlushAfterCancel(t *testing.T) {
	done := make(chan struct{})
	var cancelled atomic.Bool
	cancel := func() {
		cancelled.Store(true)
		// A worker that only finishes its last flush once cancelled
		go func() {
			time.Sleep(50 * time.Millisecond)
			close(done)
		}()
	}

	if !awaitDrain(done, 20*time.Millisecond, time.Second, cancel, zap.NewNop()) {
		t.Fatalf("returned before the final flush finished")
	}
	if !cancelled.Load() {
		t.Fatalf("workers were not cancelled after the grace period")
	}
}

func TestAwaitDrainGracefulPathDoesNotCancel(t *testing.T) {
	done := make(chan struct{})
	close(done)
	cancel := func() { t.Fatalf("cancelled on the graceful path") }
	if !awaitDrain(done, time.Second, time.Second, context.CancelFunc(cancel), zap.NewNop()) {
		t.Fatalf("reported failure although workers stopped")
	}
}

func TestAwaitDrainGivesUp(t *testing.T) {
	began := time.Now()
	if awaitDrain(make(chan struct{}), 10*time.Millisecond, 30*time.Millisecond, func() {}, zap.NewNop()) {
		t.Fatalf("reported success for workers that never stopped")
	}
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("waited %v, want about 40ms", elapsed)
	}
}
