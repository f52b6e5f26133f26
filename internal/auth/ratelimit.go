package auth

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key (the remote IP) so a
// single client hammering POST /login cannot guess passwords at full speed.
//
// Buckets that have not been used for idleTTL are dropped on the next call
// to Allow after a sweep interval. At most maxClients buckets exist at once;
// a new client arriving while the table is full of active clients is
// refused until some go idle.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*visitor
	every      rate.Limit
	burst      int
	idleTTL    time.Duration
	maxClients int
	lastSweep  time.Time
	now        func() time.Time
}

// defaultMaxClients bounds the bucket table.
const defaultMaxClients = 10000

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key per minute, with bursts
// of up to perMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters:   make(map[string]*visitor),
		every:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      perMinute,
		idleTTL:    10 * time.Minute,
		maxClients: defaultMaxClients,
		now:        time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idleTTL {
		rl.sweep(now)
	}

	v, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= rl.maxClients {
			rl.sweep(now)
			if len(rl.limiters) >= rl.maxClients {
				return false
			}
		}
		v = &visitor{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.limiters {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.limiters, k)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects requests over the limit with 429. Only POST requests
// are counted; GET of the login form is never throttled.
//
// The key is the transport peer recorded by CapturePeer. Client-supplied
// X-Forwarded-For / X-Real-IP headers never pick the bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many attempts, please wait a minute and try again.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type peerKey struct{}

// CapturePeer records r.RemoteAddr as the connection's peer. It must run
// before any middleware that rewrites RemoteAddr from proxy headers, such as
// chi's RealIP.
func CapturePeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)))
	})
}

func clientKey(r *http.Request) string {
	addr, ok := r.Context().Value(peerKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
