// Package ratelimiter throttles ceremony attempts per customer so a stolen
// device cannot grind the authenticator prompt or the backend challenge
// endpoints. One token bucket per customer id, idle buckets evicted lazily.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type AttemptLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu         sync.Mutex
	byCustomer map[string]*bucket
	hits       uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a per-customer limiter; nil (never limiting) when rps or burst
// is not positive, so callers can disable limiting from configuration.
func New(rps float64, burst int, idleTTL time.Duration) *AttemptLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &AttemptLimiter{
		limit:      rate.Limit(rps),
		burst:      burst,
		idleTTL:    idleTTL,
		byCustomer: make(map[string]*bucket),
	}
}

// Allow consumes one attempt for the customer at now.
func (l *AttemptLimiter) Allow(customerID string, now time.Time) bool {
	if l == nil {
		return true
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byCustomer[customerID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byCustomer[customerID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for id, v := range l.byCustomer {
			if v.lastSeen.Before(cutoff) {
				delete(l.byCustomer, id)
			}
		}
	}

	return allowed
}
