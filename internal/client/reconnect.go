package client

import (
	"errors"
	"time"
)

var ErrGaveUp = errors.New("reconnect attempts exhausted")

// ReconnectPolicy is a bounded exponential backoff.
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts counts retries after the first try; 0 means retry forever.
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 10,
	}
}

// Delay returns how long to wait before retry number attempt (0-based),
// or false once the policy is exhausted.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := p.Initial
	for range attempt {
		d = time.Duration(float64(d) * mult)
		if p.Max > 0 && d >= p.Max {
			return p.Max, true
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d, true
}
