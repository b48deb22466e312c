package session

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect delay bounds.
const (
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 10 * time.Minute
)

// NewBackoff returns the reconnect policy: start at initial, double on every
// failed attempt, never exceed maxDelay, no jitter and no overall deadline.
func NewBackoff(initial, maxDelay time.Duration) backoff.BackOff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ServerOrder returns a freshly shuffled copy of servers, so every attempt
// round tries each server once in a new random order.
func ServerOrder(servers []string, rng *rand.Rand) []string {
	order := make([]string, len(servers))
	copy(order, servers)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
