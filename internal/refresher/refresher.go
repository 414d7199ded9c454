// Package refresher approximates live video on devices or links where the
// multipart stream is unusable, by loading a fresh still on a fixed period.
package refresher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 200 * time.Millisecond

// Display consumes one frame source per tick. src is unique per tick so
// nothing between the client and the device can serve a cached image.
type Display interface {
	Show(ctx context.Context, src string) error
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(ctx context.Context, src string) error

func (f DisplayFunc) Show(ctx context.Context, src string) error { return f(ctx, src) }

// SourceFunc returns the frame source for a tick time.
type SourceFunc func(t time.Time) string

type Config struct {
	Interval time.Duration
	Source   SourceFunc
	Display  Display
	// OnResult, if set, receives every tick's outcome. A failed tick does
	// not pause polling.
	OnResult func(err error)
	Logger   *zap.SugaredLogger
}

// Refresher is idle until Start and polls until Stop.
type Refresher struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	failed bool
}

func New(cfg Config) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Refresher{cfg: cfg}
}

// Start begins polling. Calling Start while polling is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.failed = false

	r.cfg.Logger.Debugw("refresher started", "interval", r.cfg.Interval)
	go r.run(ctx, r.done)
}

// Stop cancels polling and waits for the loop to exit, so no tick runs
// after Stop returns. Stopping an idle refresher is a no-op.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.cfg.Logger.Debugw("refresher stopped")
}

// Running reports whether the refresher is polling.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Failed reports whether the most recent tick failed.
func (r *Refresher) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Refresher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.tick(ctx, t)
		}
	}
}

func (r *Refresher) tick(ctx context.Context, t time.Time) {
	// Stop may have raced the ticker.
	if ctx.Err() != nil {
		return
	}

	err := r.cfg.Display.Show(ctx, r.cfg.Source(t))
	if err != nil && ctx.Err() != nil {
		// Cancelled mid-load; not a frame failure.
		return
	}

	r.mu.Lock()
	r.failed = err != nil
	r.mu.Unlock()

	if err != nil {
		r.cfg.Logger.Debugw("frame load failed", "error", err)
	}
	if r.cfg.OnResult != nil {
		r.cfg.OnResult(err)
	}
}
