// Package worker hosts the engine's periodic background loops: auto-resume
// sweeps over paused flows and crash recovery of flows whose executor died
// mid-run.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tick is one sweep of a background loop.
type Tick func(ctx context.Context)

// TickWorker runs a sweep function on a fixed interval until stopped.
type TickWorker struct {
	name     string
	interval time.Duration
	tick     Tick
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewTickWorker creates a stopped worker; call Start to begin sweeping.
func NewTickWorker(name string, interval time.Duration, tick Tick, logger *zap.Logger) *TickWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickWorker{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Starting twice is a no-op.
func (w *TickWorker) Start(ctx context.Context) {
	w.once.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.loop(ctx)
	})
}

func (w *TickWorker) loop(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("worker started",
		zap.String("worker", w.name), zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker stopped", zap.String("worker", w.name))
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop ends the loop and waits for the in-flight sweep to finish.
func (w *TickWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
