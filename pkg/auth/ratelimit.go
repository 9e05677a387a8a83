package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether an authenticated caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// Tier holds the token-bucket settings for one service tier.
type Tier struct {
	RequestsPerSecond float64
	Burst             int
}

// SubjectLimiter keeps one token bucket per subject and tier. Buckets not
// used for IdleTTL are dropped on the next sweep.
type SubjectLimiter struct {
	def   Tier
	tiers map[string]Tier

	// IdleTTL bounds how long an unused bucket is kept. Zero keeps buckets
	// for ten minutes.
	IdleTTL time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewSubjectLimiter creates a limiter applying def to every tier not listed
// in tiers. A tier with RequestsPerSecond <= 0 is not limited.
func NewSubjectLimiter(def Tier, tiers map[string]Tier) *SubjectLimiter {
	return &SubjectLimiter{
		def:     def,
		tiers:   tiers,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes one token from the caller's bucket and returns
// ErrTooManyRequests when the bucket is empty.
func (l *SubjectLimiter) Allow(_ context.Context, id *Identity) error {
	tier := tierLabel(id.ServiceTier)
	cfg, ok := l.tiers[tier]
	if !ok {
		cfg = l.def
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	key := id.Subject + ":" + tier
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets at most once per TTL. Callers hold l.mu.
func (l *SubjectLimiter) sweep(now time.Time) {
	ttl := l.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if now.Sub(l.lastSweep) < ttl {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= ttl {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of live buckets.
func (l *SubjectLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
