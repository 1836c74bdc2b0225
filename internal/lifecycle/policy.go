// Package lifecycle owns the per-instance connection state machine: pairing
// challenge cycles, reconnect backoff and terminal failure detection.
package lifecycle

import "time"

// Policy bounds reconnects and pairing attempts for one instance.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// UnauthenticatedRetries is how many reconnects a never-authenticated
	// instance gets before giving up. Pairing success re-grants it.
	UnauthenticatedRetries int

	// ConnectTimeout fails a Connecting/Authenticating phase that never
	// reaches a challenge or a session. Zero disables the watchdog.
	ConnectTimeout time.Duration

	MaxChallengeAttempts int // expired challenges per cycle
	MaxChallengeCycles   int
}

// DefaultPolicy returns the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:             5,
		BaseDelay:              time.Second,
		MaxDelay:               30 * time.Second,
		UnauthenticatedRetries: 1,
		ConnectTimeout:         60 * time.Second,
		MaxChallengeAttempts:   3,
		MaxChallengeCycles:     2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.UnauthenticatedRetries < 0 {
		p.UnauthenticatedRetries = 0
	}
	if p.MaxChallengeAttempts <= 0 {
		p.MaxChallengeAttempts = d.MaxChallengeAttempts
	}
	if p.MaxChallengeCycles <= 0 {
		p.MaxChallengeCycles = d.MaxChallengeCycles
	}
	return p
}

// Backoff returns the delay before reconnect attempt n (0-based):
// BaseDelay * 2^n, capped at MaxDelay.
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
