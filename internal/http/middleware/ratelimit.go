package middleware

import (
	"net/http"
	"sync"
	"time"
)

// Idle visitors older than this are dropped on the next sweep.
const visitorTTL = 10 * time.Minute

// visitor is a token bucket for a single client IP.
type visitor struct {
	tokens float64
	seen   time.Time
}

// throttle tracks one bucket per client IP. Refill happens lazily on each
// request, and stale entries are swept inline rather than by a background
// goroutine, so an idle server holds no timers.
type throttle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      float64
	burst     float64
	lastSweep time.Time
}

func newThrottle(rate float64, burst int) *throttle {
	return &throttle{
		visitors:  make(map[string]*visitor),
		rate:      rate,
		burst:     float64(burst),
		lastSweep: time.Now(),
	}
}

func (t *throttle) allow(ip string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) > visitorTTL {
		for addr, v := range t.visitors {
			if now.Sub(v.seen) > visitorTTL {
				delete(t.visitors, addr)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{tokens: t.burst, seen: now}
		t.visitors[ip] = v
	}

	v.tokens = min(t.burst, v.tokens+now.Sub(v.seen).Seconds()*t.rate)
	v.seen = now
	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// RateLimit rejects requests over rate req/s per client IP (allowing bursts
// of burst requests) with 429 Too Many Requests. The client IP is taken from
// X-Real-Ip when chi's RealIP middleware has set it, falling back to
// RemoteAddr.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	t := newThrottle(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.Header.Get("X-Real-Ip")
			if ip == "" {
				ip = r.RemoteAddr
			}
			if !t.allow(ip, time.Now()) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
