package telemetry

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor pairs a token bucket with the last time it was touched, so stale
// entries can be swept from the map.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-source-IP connection rate at the acceptor,
// ahead of anything application-level (spec §4.6's acceptor loop). It is
// deliberately coarse: one token bucket per remote IP, independent of
// path or method, since the core has no notion of routes.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
}

// NewRateLimiter builds a limiter allowing ratePerSecond sustained
// connections per IP with burst headroom, sweeping entries untouched for
// longer than 3 minutes.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(ratePerSecond),
		burst:    burst,
		maxIdle:  3 * time.Minute,
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) sweepLoop() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.maxIdle {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow reports whether a new connection from addr may proceed.
func (rl *RateLimiter) Allow(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}

	rl.mu.Lock()
	v, ok := rl.visitors[host]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[host] = v
	}
	v.lastSeen = time.Now()
	limiter := v.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}
