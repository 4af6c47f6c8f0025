package beacon

import (
	"sync"
	"time"
)

// ActivityTimer holds the absolute deadline before which the device must
// not enter duty-cycle sleep. Every BLE event and every toggle overwrites
// the deadline through Prolong, so the timer never accumulates drift.
// The clock is injected so tests can drive it.
type ActivityTimer struct {
	// Guards deadline
	mu       sync.Mutex
	deadline time.Time
	now      func() time.Time
}

// NewActivityTimer creates a timer with a zero deadline.
func NewActivityTimer(now func() time.Time) *ActivityTimer {
	if now == nil {
		now = time.Now
	}
	return &ActivityTimer{now: now}
}

// Prolong sets the deadline to now + grace. A later call overwrites an
// earlier one unconditionally, even if that moves the deadline closer.
func (t *ActivityTimer) Prolong(grace time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = t.now().Add(grace)
}

// Restore overwrites the deadline with a retained value on a warm boot.
func (t *ActivityTimer) Restore(deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = deadline
}

// Deadline returns the current deadline.
func (t *ActivityTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// IsExpired reports whether now is strictly past the deadline. A query at
// exactly the deadline is not yet expired.
func (t *ActivityTimer) IsExpired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.After(t.deadline)
}
