package http

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// userRateLimiter keeps one token bucket per user.
type userRateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	limit        rate.Limit
	burst        int
	perMinute    int
	now          func() time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	limiter     *rate.Limiter
	lastRequest time.Time
}

// newUserRateLimiter allows perMinute requests per minute per user, all of
// which may arrive at once.
func newUserRateLimiter(perMinute int) *userRateLimiter {
	rl := &userRateLimiter{
		clients:     make(map[string]*clientInfo),
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       perMinute,
		perMinute:   perMinute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries.
func (rl *userRateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops users idle for 10 minutes; their buckets are full again by then.
func (rl *userRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-10 * time.Minute)
	for userID, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, userID)
		}
	}
}

func (rl *userRateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *userRateLimiter) allow(userID string, metrics *securityMetrics) bool {
	rl.mu.Lock()
	now := rl.now()
	client, ok := rl.clients[userID]
	if !ok {
		client = &clientInfo{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[userID] = client
	}
	client.lastRequest = now
	rl.mu.Unlock()

	if client.limiter.AllowN(now, 1) {
		return true
	}
	if metrics != nil {
		atomic.AddInt64(&metrics.rateLimitHits, 1)
	}
	return false
}

// retryAfterSeconds is the time for one token to refill.
func (rl *userRateLimiter) retryAfterSeconds() int {
	secs := 60 / rl.perMinute
	if secs < 1 {
		return 1
	}
	return secs
}
