package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleSweepInterval = 5 * time.Minute
	throttleIdleTTL       = 10 * time.Minute
)

type addressLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-address token bucket applied before a request reaches the engine.
// Buckets idle for longer than ten minutes are swept.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*addressLimiter
	r        rate.Limit
	burst    int
	stop     chan struct{}
	once     sync.Once
}

// NewThrottle allows r requests per second per address with bursts of up to burst.
// Close stops the sweeper.
func NewThrottle(r rate.Limit, burst int) *Throttle {
	t := &Throttle{
		limiters: make(map[string]*addressLimiter),
		r:        r,
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go t.sweep()
	return t
}

// Allow reports whether address may proceed now.
func (t *Throttle) Allow(address string) bool {
	return t.get(address).Allow()
}

func (t *Throttle) get(address string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.limiters[address]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}
	l := rate.NewLimiter(t.r, t.burst)
	t.limiters[address] = &addressLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

func (t *Throttle) sweep() {
	ticker := time.NewTicker(throttleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictIdle(time.Now())
		}
	}
}

func (t *Throttle) evictIdle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for address, v := range t.limiters {
		if now.Sub(v.lastSeen) > throttleIdleTTL {
			delete(t.limiters, address)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// Close stops the background sweeper. It is safe to call more than once.
func (t *Throttle) Close() {
	t.once.Do(func() { close(t.stop) })
}

// Limit rejects requests over the per-address budget with 429.
func (t *Throttle) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(ClientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
