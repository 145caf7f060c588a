package proxy

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ingressLimiter is a per-remote-address token bucket guarding the wildcard
// route, grounded in ixingchenehub-cursor2api's use of golang.org/x/time for
// outbound pacing — here it paces inbound requests instead. Zero rps
// disables limiting entirely.
type ingressLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIngressLimiter(rps float64, burst int) *ingressLimiter {
	return &ingressLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ingressLimiter) enabled() bool {
	return l != nil && l.rps > 0
}

func (l *ingressLimiter) allow(remoteAddr string) bool {
	if !l.enabled() {
		return true
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
}
