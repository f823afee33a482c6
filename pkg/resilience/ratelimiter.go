package resilience

import (
	"sync"
	"time"
)

// LimiterOpts configures a Limiter.
type LimiterOpts struct {
	// Rate is tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter is one token bucket. It admits or refuses without blocking, and
// a refusal carries the wait until the next token so callers can hand the
// hint on as a Retry-After. KeyedLimiter builds on it per key.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewLimiter creates a full bucket. Burst below one is raised to one.
func NewLimiter(opts LimiterOpts) *Limiter {
	return newLimiter(opts.Rate, opts.Burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		now:    now,
	}
}

// Admit decides one request. When refused, retryAfter is the positive wait
// until the bucket holds a token again. The decision and the hint come out
// of one critical section, so two callers racing for the last token cannot
// both win.
func (l *Limiter) Admit() (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() {
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}

	deficit := 1.0 - l.tokens
	wait := time.Duration(deficit / l.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// idleSince reports whether the bucket has been untouched for ttl.
func (l *Limiter) idleSince(now time.Time, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.last) >= ttl
}
