package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is the refresh cadence used when none is configured.
const DefaultInterval = 30 * time.Second

// tickTimeout is the maximum time allowed for a single refresh callback.
const tickTimeout = 30 * time.Second

// RefreshFunc is the callback invoked on every scheduler tick.
type RefreshFunc func(ctx context.Context) error

// Scheduler fires a refresh callback at a fixed interval while armed.
// It is a two-state machine: Idle (no timer) and Armed (exactly one live
// timer). Re-arming cancels the previous timer before starting a new one,
// so two timers can never be live at once. Callback failures are logged
// and never stop future ticks.
type Scheduler struct {
	logger *logrus.Logger

	mu     gosync.Mutex
	stopCh chan struct{}
}

// New creates a disarmed scheduler.
func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Arm starts the periodic timer. If the scheduler is already armed the
// existing timer is cancelled first, so calling Arm with a new interval or
// callback is safe and idempotent. A non-positive interval falls back to
// DefaultInterval.
func (s *Scheduler) Arm(interval time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		close(s.stopCh)
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh

	go s.run(stopCh, interval, fn)
}

// Disarm cancels the timer if one is live. It is idempotent and safe to
// call on teardown regardless of the current state.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
}

// Armed reports whether a timer is currently live.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// run is the timer loop for a single armed period. It exits as soon as its
// stop channel closes, which happens on Disarm or on re-arming. Each tick's
// callback runs in its own goroutine so a slow invocation never blocks the
// loop; overlapping invocations are tolerated, missed ticks are not.
func (s *Scheduler) run(stopCh chan struct{}, interval time.Duration, fn RefreshFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			go s.tick(fn)
		}
	}
}

// tick invokes the callback once with a bounded context. The callback's
// own failure never propagates; the next tick fires regardless.
func (s *Scheduler) tick(fn RefreshFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.WithError(err).Warn("scheduled refresh failed")
	}
}
