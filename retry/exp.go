package retry

import (
	"time"
)

// ExpConfig configures exponential backoff
type ExpConfig struct {
	Min     time.Duration
	Max     time.Duration
	Scale   float64
	Instant bool // if false, the first delay is zero
}

// Delays implements interface Config
func (ec ExpConfig) Delays() DelayFn {
	b, zero := NewExpBackoff(ec), !ec.Instant
	return func() (time.Duration, bool) {
		if zero {
			zero = false
			return 0, true
		}
		return b.Backoff(), true
	}
}

// Exponential is the state of a backoff sequence. The socket keeps one per
// connection and resets it after every successful session.
type Exponential struct {
	config  ExpConfig
	current time.Duration
}

// ReconnectConfig mirrors the usual browser socket reconnection policy:
// start at one second, double up to five seconds
var ReconnectConfig = ExpConfig{
	Min:   1 * time.Second,
	Max:   5 * time.Second,
	Scale: 2.0,
}

// NewExpBackoff creates a new backoff sequence
func NewExpBackoff(config ExpConfig) *Exponential {
	return &Exponential{
		config:  config,
		current: config.Min,
	}
}

// Backoff returns the duration to wait and advances the sequence
func (b *Exponential) Backoff() time.Duration {
	beforeScale := b.current
	b.current = time.Duration(float64(b.current) * b.config.Scale)
	if b.current > b.config.Max {
		b.current = b.config.Max
	}
	return beforeScale
}

// Reset restarts the sequence from Min
func (b *Exponential) Reset() {
	b.current = b.config.Min
}
