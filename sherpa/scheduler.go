package sherpa

import "time"

// Scheduler is the timer capability injected into the stores and the
// LFGManager, so tests can advance time deterministically instead of
// sleeping.
type Scheduler interface {
	// AfterFunc runs fn in its own goroutine after delay elapses. The
	// returned func cancels the timer, reporting whether it did so
	// before fn started. Callbacks must tolerate firing after the state
	// they reference is gone; cancellation is an optimization, never a
	// correctness requirement.
	AfterFunc(delay time.Duration, fn func()) (cancel func() bool)
}

type timerScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used in production,
// backed by [time.AfterFunc].
func NewScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) AfterFunc(delay time.Duration, fn func()) func() bool {
	t := time.AfterFunc(delay, fn)
	return t.Stop
}
