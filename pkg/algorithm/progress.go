package algorithm

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"caretcore/pkg/logging"
)

// Progress is supplied by callers that want to observe or cancel a running
// engine. Implementations must be safe for concurrent use: workers call
// Update from whichever goroutine acquired the latest unit of work.
type Progress interface {
	// Update reports that unit current of total is being processed.
	Update(text string, current, total int)

	// IsCancelled is polled before new work is acquired.
	IsCancelled() bool
}

// NopProgress ignores updates and is never cancelled.
type NopProgress struct{}

func (NopProgress) Update(string, int, int) {}
func (NopProgress) IsCancelled() bool       { return false }

// CancelFlag is a Progress whose only capability is cooperative cancellation.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel requests cancellation.
func (c *CancelFlag) Cancel() { c.cancelled.Store(true) }

func (c *CancelFlag) Update(string, int, int) {}

func (c *CancelFlag) IsCancelled() bool { return c.cancelled.Load() }

// Func adapts a plain observer function into a Progress that is never cancelled.
type Func func(text string, current, total int)

func (f Func) Update(text string, current, total int) { f(text, current, total) }
func (f Func) IsCancelled() bool                      { return false }

// LogProgress writes every update to a logger.
type LogProgress struct {
	Logger *logging.Logger
}

func (p LogProgress) Update(text string, current, total int) {
	p.Logger.Info(text, "current", current, "total", total)
}

func (p LogProgress) IsCancelled() bool { return false }

// ThrottledProgress forwards a subset of updates to an inner Progress: the
// first one, every Every-th one, and at most once per Interval otherwise.
// The final update (current == total-1) is always forwarded. Cancellation
// queries are never throttled.
type ThrottledProgress struct {
	inner     Progress
	sometimes *rate.Sometimes
	mu        sync.Mutex
}

// Throttle wraps inner. every <= 0 and interval <= 0 disable the respective
// limit; with both disabled every update is forwarded.
func Throttle(inner Progress, every int, interval time.Duration) *ThrottledProgress {
	if inner == nil {
		inner = NopProgress{}
	}
	t := &ThrottledProgress{inner: inner}
	if every > 0 || interval > 0 {
		t.sometimes = &rate.Sometimes{First: 1, Every: max(every, 0), Interval: max(interval, 0)}
	}
	return t
}

func (t *ThrottledProgress) Update(text string, current, total int) {
	if t.sometimes == nil || (total > 0 && current == total-1) {
		t.mu.Lock()
		t.inner.Update(text, current, total)
		t.mu.Unlock()
		return
	}
	t.sometimes.Do(func() {
		t.mu.Lock()
		t.inner.Update(text, current, total)
		t.mu.Unlock()
	})
}

func (t *ThrottledProgress) IsCancelled() bool { return t.inner.IsCancelled() }

// OrNop returns p, or NopProgress when p is nil.
func OrNop(p Progress) Progress {
	if p == nil {
		return NopProgress{}
	}
	return p
}
