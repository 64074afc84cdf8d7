package simplesocket

import (
	"math"
	"sync"
	"time"
)

// backoffDelay computes the exponential backoff delay for a retry
// attempt: min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max || d <= 0 {
		d = max
	}
	return d
}

// reconnectTracker records retry attempts and runs the one-second
// resolution countdown toward the next attempt. At most one countdown is
// live at a time; scheduling a new one cancels the prior one first.
type reconnectTracker struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	attempt      int
	remaining    time.Duration
	reconnecting bool
	lastFailure  string
	stopCh       chan struct{}
}

func newReconnectTracker(base, max time.Duration, maxAttempts int) *reconnectTracker {
	return &reconnectTracker{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
	}
}

// retryScheduled records a retry attempt, starts the countdown, and
// returns the delay before the attempt should run.
func (t *reconnectTracker) retryScheduled(attempt int, reason string) time.Duration {
	delay := backoffDelay(t.baseDelay, t.maxDelay, attempt)

	t.mu.Lock()
	t.stopCountdownLocked()
	t.attempt = attempt
	t.remaining = delay
	t.reconnecting = true
	t.lastFailure = reason
	stop := make(chan struct{})
	t.stopCh = stop
	t.mu.Unlock()

	go t.countdown(stop)
	return delay
}

// reset clears the tracker after a successful connect.
func (t *reconnectTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
	t.attempt = 0
	t.remaining = 0
	t.reconnecting = false
	t.lastFailure = ""
}

// exhaust stops the countdown after the attempt ceiling was hit. The
// attempt count is kept for inspection.
func (t *reconnectTracker) exhaust(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
	t.remaining = 0
	t.reconnecting = false
	t.lastFailure = reason
}

// stop cancels any live countdown without touching counters.
func (t *reconnectTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
}

func (t *reconnectTracker) snapshot() ReconnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ReconnectionInfo{
		Attempt:           t.attempt,
		MaxAttempts:       t.maxAttempts,
		NextRetryIn:       t.remaining,
		IsReconnecting:    t.reconnecting,
		LastFailureReason: t.lastFailure,
	}
}

func (t *reconnectTracker) countdown(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if t.tick() == 0 {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick decrements the countdown by one second, flooring at zero, and
// returns the remainder.
func (t *reconnectTracker) tick() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining -= time.Second
	if t.remaining < 0 {
		t.remaining = 0
	}
	return t.remaining
}

// stopCountdownLocked must be called with t.mu held.
func (t *reconnectTracker) stopCountdownLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}
