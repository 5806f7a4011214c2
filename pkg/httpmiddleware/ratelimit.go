package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig is a fixed window request budget per client.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// Counter counts hits for key in the window starting at windowStart and
// returns the total including this hit.
type Counter interface {
	Hit(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// KeyFunc selects the rate limit bucket of a request.
type KeyFunc func(r *http.Request) string

// RateLimit rejects requests past cfg.Max per window with 429. Counter
// failures let the request through.
func RateLimit(cfg RateLimitConfig, c Counter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Max <= 0 || cfg.Window <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			now := time.Now()
			start := now.Truncate(cfg.Window)
			n, err := c.Hit(r.Context(), key(r), start, cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit counter failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			reset := start.Add(cfg.Window)
			remaining := int64(cfg.Max) - n
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if n > int64(cfg.Max) {
				retry := int(reset.Sub(now).Seconds()) + 1
				h.Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys by the peer address. Forwarding headers are ignored; use
// ProxiedClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxiedClientIP keys by the client address reported by trusted proxies.
// Forwarding headers are honoured only when the peer is in trusted. The
// X-Forwarded-For chain is walked from the right and the first hop outside
// trusted is the client. Without trusted proxies it is ClientIP.
func ProxiedClientIP(trusted []netip.Prefix) KeyFunc {
	if len(trusted) == 0 {
		return ClientIP
	}
	isTrusted := func(s string) bool {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range trusted {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}
	return func(r *http.Request) string {
		peer := ClientIP(r)
		if !isTrusted(peer) {
			return peer
		}
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			hops := strings.Split(strings.Join(xff, ","), ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if hop == "" {
					continue
				}
				if !isTrusted(hop) {
					return hop
				}
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		return peer
	}
}

// ParseProxies parses trusted proxy addresses given as CIDR prefixes or
// single IPs.
func ParseProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, errors.Wrapf(err, "trusted proxy %q", v)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted proxy %q", v)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// MemoryCounter is an in-process Counter. Buckets of past windows are
// dropped lazily on the next hit.
type MemoryCounter struct {
	mu      sync.Mutex
	window  time.Time
	buckets map[string]int64
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]int64)}
}

// Hit implements Counter.
func (m *MemoryCounter) Hit(_ context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !windowStart.Equal(m.window) {
		m.window = windowStart
		clear(m.buckets)
	}
	m.buckets[key]++
	return m.buckets[key], nil
}
