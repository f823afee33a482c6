package resilience

import (
	"sync"
	"time"
)

// KeyedOpts configures a per-key limiter.
type KeyedOpts struct {
	// Rate is tokens added per second, per key.
	Rate float64
	// Burst is bucket capacity per key.
	Burst int
	// IdleTTL drops buckets untouched for this long. Zero keeps them.
	IdleTTL time.Duration
}

// KeyedLimiter applies an independent token bucket per key, used for
// per-caller request quotas. Each bucket is a Limiter, so refusals carry
// the same retry hint.
type KeyedLimiter struct {
	mu        sync.Mutex
	opts      KeyedOpts
	buckets   map[string]*Limiter
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedLimiter creates a per-key token bucket limiter.
func NewKeyedLimiter(opts KeyedOpts) *KeyedLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &KeyedLimiter{
		opts:    opts,
		buckets: make(map[string]*Limiter),
		now:     time.Now,
	}
}

// Allow decides one request for key. When refused, retryAfter is the
// positive wait until the key's next token.
func (k *KeyedLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	k.mu.Lock()
	k.sweep(k.now())
	b, found := k.buckets[key]
	if !found {
		b = newLimiter(k.opts.Rate, k.opts.Burst, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()

	return b.Admit()
}

// Len reports the number of live buckets.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// sweep drops idle buckets. Runs at most once per IdleTTL. Must hold mu.
func (k *KeyedLimiter) sweep(now time.Time) {
	if k.opts.IdleTTL <= 0 || now.Sub(k.lastSweep) < k.opts.IdleTTL {
		return
	}
	k.lastSweep = now
	for key, b := range k.buckets {
		if b.idleSince(now, k.opts.IdleTTL) {
			delete(k.buckets, key)
		}
	}
}
