// Package retry decides whether a failed event may be attempted again.
// Decisions are pure: the policy never touches the store or the clock.
package retry

import "time"

// Verdict classifies a retry decision.
type Verdict int

const (
	// Allow permits an attempt now.
	Allow Verdict = iota
	// Wait defers the attempt until Decision.Until.
	Wait
	// Exhausted means the retry budget is spent; the event stays failed.
	Exhausted
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Wait:
		return "wait"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Decision is the outcome of Decide. Until is set only for Wait.
type Decision struct {
	Verdict Verdict
	Until   time.Time
}

const (
	DefaultMaxRetries = 3
	DefaultCooldown   = 5 * time.Minute
)

// Policy computes retry admission from the event's attempt history.
// Cooldown doubles per attempt starting from the floor: floor, 2x, 4x, ...
type Policy struct {
	maxRetries int
	cooldown   time.Duration
}

func NewPolicy(maxRetries int, cooldown time.Duration) *Policy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Policy{maxRetries: maxRetries, cooldown: cooldown}
}

// MaxRetries returns the configured attempt budget.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Decide evaluates whether an event with the given attempt history may be
// retried at now. lastRetryAt is nil when no attempt has failed yet.
func (p *Policy) Decide(retryCount int, lastRetryAt *time.Time, now time.Time) Decision {
	if retryCount >= p.maxRetries {
		return Decision{Verdict: Exhausted}
	}
	if retryCount == 0 || lastRetryAt == nil {
		return Decision{Verdict: Allow}
	}

	until := lastRetryAt.Add(p.backoff(retryCount))
	if now.Before(until) {
		return Decision{Verdict: Wait, Until: until}
	}
	return Decision{Verdict: Allow}
}

// backoff returns the cooldown before attempt retryCount+1.
func (p *Policy) backoff(retryCount int) time.Duration {
	d := p.cooldown
	for i := 1; i < retryCount; i++ {
		d *= 2
	}
	return d
}
