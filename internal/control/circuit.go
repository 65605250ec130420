package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker opens after Threshold consecutive failures and lets a single
// probe through once Cooldown has elapsed. It is not safe for concurrent use;
// the poll loop owns it.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state    CircuitState
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow returns whether new work is allowed at this instant.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (c *CircuitBreaker) RecordSuccess() {
	c.state = CircuitClosed
	c.failures = 0
}

// RecordFailure counts a failure; a failed half-open probe reopens immediately.
func (c *CircuitBreaker) RecordFailure(now time.Time) {
	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= c.Threshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}
