package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/config"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	maxPeekBodySize = 1 << 20
)

type bucket struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per key and drops buckets that have
// been idle for ten minutes.
type RateLimiter struct {
	store  sync.Map // map[string]*bucket
	limit  rate.Limit
	burst  int
	window time.Duration
	stop   chan struct{}
	once   sync.Once
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	window := cfg.IssueWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	burst := cfg.IssueBurst
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		limit:  rate.Every(window),
		burst:  burst,
		window: window,
		stop:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.store.Range(func(key, value any) bool {
				b := value.(*bucket)
				b.mu.Lock()
				if now.Sub(b.lastAccess) > limiterIdleTTL {
					rl.store.Delete(key)
				}
				b.mu.Unlock()
				return true
			})
		}
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	val, _ := rl.store.LoadOrStore(key, &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst), lastAccess: now})
	b := val.(*bucket)

	b.mu.Lock()
	b.lastAccess = now
	b.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// PerDepartment limits requests per route, target department and client
// address. The department is read from the JSON body's department_id.
func (rl *RateLimiter) PerDepartment(route string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := strings.Join([]string{route, peekDepartmentID(r), ClientIP(r)}, "|")
			if !rl.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				errors.Write(w, errors.TooManyRequests("Too many requests, please retry later"))
				return
			}
			next(w, r)
		}
	}
}

// peekDepartmentID reads department_id from the body and restores the body
// for the next handler.
func peekDepartmentID(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBodySize))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var body struct {
		DepartmentID string `json:"department_id"`
	}
	_ = json.Unmarshal(raw, &body)
	return body.DepartmentID
}

// ClientIP returns the peer address. Forwarded headers only count when
// ForwardedFor has rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedFor replaces RemoteAddr with the last X-Forwarded-For entry, the
// address seen by the proxy in front of us. Only mount it behind a proxy
// that appends to the header.
func ForwardedFor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			last := fwd
			if i := strings.LastIndexByte(fwd, ','); i >= 0 {
				last = fwd[i+1:]
			}
			if ip := net.ParseIP(strings.TrimSpace(last)); ip != nil {
				r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
			}
		}
		next.ServeHTTP(w, r)
	})
}
