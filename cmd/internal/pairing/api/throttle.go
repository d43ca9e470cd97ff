package pairingapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxTrackedClients bounds the failure map; stale entries are swept once it is exceeded.
const maxTrackedClients = 10_000

// codeThrottle rejects clients that keep presenting invalid invite codes.
// Codes are short, so guessing is the main abuse path for /invites/{code}/submit.
type codeThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	limit    int
	window   time.Duration
}

func newCodeThrottle(limit int, window time.Duration) *codeThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &codeThrottle{
		failures: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Check reports whether key is currently blocked and for how long.
func (t *codeThrottle) Check(key string, now time.Time) (bool, time.Duration) {
	if t == nil || key == "" {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return evaluateWindowThrottle(now, t.failures[key], t.limit, t.window)
}

// RecordFailure notes an invalid-code attempt by key.
func (t *codeThrottle) RecordFailure(key string, now time.Time) {
	if t == nil || key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[key] = append(pruneBefore(t.failures[key], now.Add(-t.window)), now)
	if len(t.failures) > maxTrackedClients {
		cut := now.Add(-t.window)
		for k, v := range t.failures {
			if v = pruneBefore(v, cut); len(v) == 0 {
				delete(t.failures, k)
			} else {
				t.failures[k] = v
			}
		}
	}
}

// evaluateWindowThrottle blocks once limit failures fall inside window.
// The retry duration runs until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < limit {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	dst := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func clientKey(r *http.Request, trustProxy bool) string {
	if ip := clientIP(r, trustProxy); ip != nil {
		return ip.String()
	}
	return ""
}
