package rate

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	capacity float64
	tokens   float64
	last     time.Time
}

// Guard enforces a request budget and vendor-imposed cooldowns.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	bucket   *bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: NewGuard(decl)}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{decl: decl, now: time.Now}
	if decl.perMinute > 0 {
		g.bucket = &bucket{capacity: float64(decl.perMinute), tokens: float64(decl.perMinute), last: g.now()}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.guard.Allow(); err != nil {
		return nil, err
	}
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// Allow consumes one request from the budget or reports why it cannot.
func (g *Guard) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		blocked.WithLabelValues(g.decl.provider, "cooldown").Inc()
		return RateLimitError{Provider: g.decl.provider, Reason: "cooldown", RetryAt: g.cooldown}
	}
	if g.bucket == nil {
		return nil
	}
	if !consumeToken(g.bucket, now) {
		blocked.WithLabelValues(g.decl.provider, "budget").Inc()
		retryAt := g.bucket.last.Add(time.Duration(float64(time.Minute) / g.bucket.capacity))
		return RateLimitError{Provider: g.decl.provider, Reason: "budget", RetryAt: retryAt}
	}
	return nil
}

// RecordResponse updates cooldown state from a vendor response.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.provider).Set(float64(status))
	if g.decl.remaining != "" {
		if remaining, ok := headerInt(headers, g.decl.remaining); ok {
			remainingGauge.WithLabelValues(g.decl.provider).Set(float64(remaining))
		}
	}

	seconds, hasRetryAfter := headerInt(headers, g.decl.retryAfter)
	wait := time.Duration(seconds) * time.Second
	switch {
	case status == http.StatusTooManyRequests && (!hasRetryAfter || seconds <= 0):
		wait = g.decl.defaultCooldown
	case status == http.StatusTooManyRequests:
	case status == http.StatusServiceUnavailable && hasRetryAfter && seconds > 0:
	default:
		return
	}
	g.cooldown = g.now().Add(wait)
	retryAfterGauge.WithLabelValues(g.decl.provider).Set(wait.Seconds())
}

// CooldownUntil reports the end of the current vendor-imposed pause.
func (g *Guard) CooldownUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

func headerInt(h http.Header, key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return 0, false
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return out, true
}

func consumeToken(b *bucket, now time.Time) bool {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		refill := b.capacity / time.Minute.Seconds()
		b.tokens = minFloat(b.capacity, b.tokens+elapsed*refill)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
