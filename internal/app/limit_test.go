package app

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func limitRequest(remote string, forwarded string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/chat", nil)
	r.RemoteAddr = remote
	if forwarded != "" {
		r.Header.Set("X-Forwarded-For", forwarded)
	}
	return r
}

func TestClientLimiter_IgnoresForwardedFromUntrustedPeer(t *testing.T) {
	l := newClientLimiter(1, nil)

	assert.True(t, l.Allow(limitRequest("203.0.113.9:5000", "198.51.100.1")))
	assert.False(t, l.Allow(limitRequest("203.0.113.9:5001", "198.51.100.2")))
	assert.Equal(t, "203.0.113.9", l.clientKey(limitRequest("203.0.113.9:5000", "198.51.100.1")))
}

func TestClientLimiter_TrustedProxyChain(t *testing.T) {
	l := newClientLimiter(1, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})

	assert.Equal(t, "198.51.100.1", l.clientKey(limitRequest("10.0.0.2:80", "198.51.100.1")))
	assert.Equal(t, "198.51.100.1", l.clientKey(limitRequest("10.0.0.2:80", "1.1.1.1, 198.51.100.1, 10.0.0.7")))
	assert.Equal(t, "10.0.0.2", l.clientKey(limitRequest("10.0.0.2:80", "")))

	assert.True(t, l.Allow(limitRequest("10.0.0.2:80", "198.51.100.1")))
	assert.True(t, l.Allow(limitRequest("10.0.0.2:80", "198.51.100.2")))
	assert.False(t, l.Allow(limitRequest("10.0.0.3:80", "198.51.100.1")))
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	l := newClientLimiter(1, nil)
	l.now = func() time.Time { return now }

	l.Allow(limitRequest("203.0.113.1:1", ""))
	l.Allow(limitRequest("203.0.113.2:1", ""))
	assert.Equal(t, 2, l.Len())

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.Allow(limitRequest("203.0.113.3:1", "")))
	assert.Equal(t, 1, l.Len())
}
