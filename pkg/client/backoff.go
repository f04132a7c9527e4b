// Package client provides a reconnecting PulseHub client: a WebSocket
// connection that re-establishes itself after abnormal closes with
// exponential backoff and jitter.
package client

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min(base * 2^attempt, cap) plus random
// jitter. Jitter spreads simultaneous retries so a restarting server is not
// hit by a synchronized storm.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
	// Jitter is the maximum random addition, as a fraction of the computed
	// delay (0.2 adds up to 20%).
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts; 0 means unlimited.
	MaxAttempts int
	// Cooldown is how long a connection must stay up before the attempt
	// counter resets, so a long-lived outage does not permanently disable
	// retries after one recovery.
	Cooldown time.Duration
}

// DefaultBackoff returns the reconnect policy used by the CLI client.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Cap:         30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 10,
		Cooldown:    time.Minute,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	if delay > b.Cap {
		delay = b.Cap
	}

	if b.Jitter > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}
	return delay
}

// Exhausted reports whether the attempt counter has hit the limit.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}
