package miio

import (
	"sync"
	"time"
)

// expiringTrigger coalesces refresh requests. The first Trigger after the
// window has expired runs the action and starts a new window; triggers
// inside the window are no-ops. Invalidate expires the window immediately.
//
// Check-and-set is atomic, so concurrent callers cannot both run the action
// for the same window.
type expiringTrigger struct {
	mu     sync.Mutex
	expiry time.Duration
	last   time.Time
	now    func() time.Time
	action func()
}

func newExpiringTrigger(expiry time.Duration, action func()) *expiringTrigger {
	return &expiringTrigger{
		expiry: expiry,
		now:    time.Now,
		action: action,
	}
}

// expiredLocked reports whether the window has lapsed. Caller holds mu.
func (t *expiringTrigger) expiredLocked() bool {
	return t.last.IsZero() || t.now().Sub(t.last) >= t.expiry
}

// Expired reports whether the next Trigger would run the action.
func (t *expiringTrigger) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredLocked()
}

// Trigger runs the action if the window has expired and reports whether it
// did. The action runs outside the lock.
func (t *expiringTrigger) Trigger() bool {
	t.mu.Lock()
	if !t.expiredLocked() {
		t.mu.Unlock()
		return false
	}
	t.last = t.now()
	t.mu.Unlock()

	t.action()
	return true
}

// Invalidate expires the current window.
func (t *expiringTrigger) Invalidate() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}
