// Package studytime accumulates the time a learner spends in the app.
package studytime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/kv"
)

// Counter tracks one foreground segment at a time and folds it into the
// persisted total. The total only ever grows.
type Counter struct {
	mu     sync.Mutex
	store  kv.Store
	clock  func() time.Time
	logger *zap.Logger

	running bool
	start   time.Time
}

type Option func(*Counter)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Counter) { c.clock = clock }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Counter) { c.logger = l }
}

func NewCounter(store kv.Store, opts ...Option) *Counter {
	c := &Counter{store: store, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a segment. Starting a running counter is a no-op.
func (c *Counter) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		c.running = true
		c.start = c.clock()
	}
}

func (c *Counter) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Commit adds the whole seconds elapsed in the current segment to the stored
// total. The segment start moves forward by exactly the committed amount, so
// the fractional remainder carries over and nothing is counted twice.
func (c *Counter) Commit(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(ctx)
}

func (c *Counter) commitLocked(ctx context.Context) (int64, error) {
	if !c.running {
		return 0, nil
	}
	secs := int64(c.clock().Sub(c.start) / time.Second)
	if secs <= 0 {
		return 0, nil
	}
	if _, err := c.store.IncrBy(ctx, kv.KeyStudySeconds, secs); err != nil {
		return 0, fmt.Errorf("failed to commit study time: %w", err)
	}
	c.start = c.start.Add(time.Duration(secs) * time.Second)
	return secs, nil
}

// Stop commits the open segment and closes it. Later commits do nothing
// until Start is called again.
func (c *Counter) Stop(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	secs, err := c.commitLocked(ctx)
	if err != nil {
		return 0, err
	}
	c.running = false
	return secs, nil
}

// Total is the persisted total plus the uncommitted part of the segment.
func (c *Counter) Total(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, err := kv.GetInt(ctx, c.store, kv.KeyStudySeconds)
	if err != nil {
		return 0, fmt.Errorf("failed to read study time: %w", err)
	}
	if c.running {
		total += int64(c.clock().Sub(c.start) / time.Second)
	}
	return total, nil
}

// Run commits every interval until ctx is done or the returned cancel func
// is called. Failed ticks are logged and retried on the next tick.
func (c *Counter) Run(ctx context.Context, interval time.Duration) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Commit(ctx); err != nil {
					c.logger.Warn("periodic study time flush failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		stop()
		<-done
	}
}
