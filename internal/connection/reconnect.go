package connection

import "time"

// ReconnectPolicy configures automatic reconnects after an ungraceful disconnect.
type ReconnectPolicy struct {
	// Enabled turns automatic reconnects on.
	Enabled bool

	// InitialDelay is the wait before the first attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// MaxAttempts limits consecutive attempts. 0 means unlimited.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the policy used when nothing is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:      true,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Delay returns the wait before the given attempt (1-based):
// InitialDelay * 2^(attempt-1), capped at MaxDelay.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
		if delay <= 0 { // overflow
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Allows reports whether the given attempt is within MaxAttempts.
func (p ReconnectPolicy) Allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt <= p.MaxAttempts
}
