package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults. MaxEntries bounds memory under distributed
// attacks; idle entries are reaped in the background.
const (
	DefaultRateLimitMaxEntries      = 10000
	DefaultRateLimitCleanupInterval = 5 * time.Minute
	DefaultRateLimitIdleTimeout     = 30 * time.Minute
)

// RateLimiter provides per-key token-bucket rate limiting with LRU
// eviction. Keys are typically client IPs; the limiter never inspects
// them.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // most recent at front; values are *limiterEntry

	rate       int
	burst      int
	maxEntries int

	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stop            chan struct{}
	stopOnce        sync.Once

	logger    *slog.Logger
	evictions int64
}

type limiterEntry struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterOptions tunes a RateLimiter beyond its rate and burst.
// Zero values select the defaults above.
type RateLimiterOptions struct {
	MaxEntries      int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	Logger          *slog.Logger
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond with
// the given burst per key, using default memory bounds.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithOptions(requestsPerSecond, burst, RateLimiterOptions{Logger: logger})
}

// NewRateLimiterWithOptions creates a rate limiter with explicit bounds.
// The background reaper starts immediately; call Stop when done.
func NewRateLimiterWithOptions(requestsPerSecond, burst int, opts RateLimiterOptions) *RateLimiter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultRateLimitMaxEntries
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultRateLimitCleanupInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultRateLimitIdleTimeout
	}

	rl := &RateLimiter{
		entries:         make(map[string]*list.Element),
		lru:             list.New(),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      opts.MaxEntries,
		cleanupInterval: opts.CleanupInterval,
		idleTimeout:     opts.IdleTimeout,
		stop:            make(chan struct{}),
		logger:          opts.Logger,
	}

	go rl.reapLoop()

	return rl
}

// Allow reports whether a request under the given key may proceed now.
// Unknown keys get a fresh bucket; when the entry limit is reached the
// least recently used key is evicted first.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastSeen = now
		return entry.limiter.Allow()
	}

	if rl.lru.Len() >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:      key,
		limiter:  rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastSeen: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)

	return entry.limiter.Allow()
}

// evictOldest drops the least recently used entry. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	back := rl.lru.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*limiterEntry)
	delete(rl.entries, entry.key)
	rl.lru.Remove(back)
	rl.evictions++

	rl.logger.Debug("rate limiter evicted LRU entry",
		"key", entry.key,
		"evictions", rl.evictions,
		"entries", len(rl.entries))
}

func (rl *RateLimiter) reapLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.reapIdle(time.Now())
		case <-rl.stop:
			return
		}
	}
}

// reapIdle removes entries idle longer than the idle timeout.
func (rl *RateLimiter) reapIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastSeen) > rl.idleTimeout {
			delete(rl.entries, entry.key)
			rl.lru.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter reaped idle entries",
			"removed", removed,
			"remaining", len(rl.entries))
	}
}

// Len returns the number of tracked keys. Exposed for monitoring gauges.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lru.Len()
}

// Stop terminates the background reaper. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
