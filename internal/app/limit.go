package app

import (
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is well past the time a bucket needs to refill, so an
// evicted client comes back with the same allowance it would have had.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	trusted   []netip.Prefix
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiter(perMinute int, trusted []netip.Prefix) *clientLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &clientLimiter{
		limiters: map[string]*limiterEntry{},
		limit:    limit,
		burst:    max(perMinute, 1),
		trusted:  trusted,
		now:      time.Now,
	}
}

func (l *clientLimiter) isTrusted(addr netip.Addr) bool {
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// clientKey is the peer address. X-Forwarded-For is only read when the peer
// is a trusted proxy, and then the nearest hop that is not a trusted proxy
// wins.
func (l *clientLimiter) clientKey(r *http.Request) string {
	remote, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !l.isTrusted(remote) {
		return remote.String()
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		client = addr
		if !l.isTrusted(addr) {
			break
		}
	}
	return client.String()
}

func (l *clientLimiter) evict(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
}

func (l *clientLimiter) Allow(r *http.Request) bool {
	key := l.clientKey(r)

	l.mu.Lock()
	now := l.now()
	l.evict(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *clientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
