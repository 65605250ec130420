package control

import (
	"log/slog"
	"time"
)

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// PollGuard paces a transport poll loop: consecutive failures back off
// exponentially and open the breaker, which pauses polling for its cooldown.
type PollGuard struct {
	Breaker *CircuitBreaker
	// Idle is the pause after a successful poll that returned nothing.
	Idle time.Duration

	failures int
}

// NewPollGuard creates a guard opening after threshold consecutive failures.
func NewPollGuard(threshold int, cooldown, idle time.Duration) *PollGuard {
	return &PollGuard{Breaker: NewCircuitBreaker(threshold, cooldown), Idle: idle}
}

// Allow reports whether a poll may run now.
func (g *PollGuard) Allow(now time.Time) bool {
	prev := g.Breaker.State()
	ok := g.Breaker.Allow(now)
	if prev == CircuitOpen && g.Breaker.State() == CircuitHalfOpen {
		slog.Info("poll circuit half-open, probing transport")
	}
	return ok
}

// Failed records a poll failure and returns how long to wait before the next poll.
func (g *PollGuard) Failed(err error, now time.Time) time.Duration {
	g.failures++
	prev := g.Breaker.State()
	g.Breaker.RecordFailure(now)
	if prev != CircuitOpen && g.Breaker.State() == CircuitOpen {
		slog.Warn("poll circuit opened",
			"failures", g.failures,
			"cooldown_seconds", int(g.Breaker.Cooldown.Seconds()),
			"err", err,
		)
	}
	return time.Duration(RetryBackoffSeconds(g.failures)) * time.Second
}

// Succeeded records a successful poll.
func (g *PollGuard) Succeeded() {
	if g.Breaker.State() != CircuitClosed {
		slog.Info("poll circuit closed", "recovered", true)
	}
	g.failures = 0
	g.Breaker.RecordSuccess()
}

// Failures returns the number of consecutive failed polls.
func (g *PollGuard) Failures() int { return g.failures }
