package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perchlabs/perch/internal/apierr"
)

// RateLimiter applies a per-IP token bucket in front of every route.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(reqPerSec),
		burst:    burst,
	}
	go func() {
		for range time.Tick(5 * time.Minute) {
			rl.mu.Lock()
			for ip, l := range rl.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

// Allow reports whether the ip is within its budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	rl.mu.Unlock()
	return l.lim.Allow()
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// isWSUpgrade reports whether the request is a WebSocket handshake.
func isWSUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// bearerToken extracts the Authorization bearer credential, if any.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// authenticate enforces the bearer-or-ticket policy: a matching bearer
// passes, a wrong bearer is 403, and an absent bearer falls through to the
// single-use ticket path for WebSocket upgrades only. An unconfigured token
// leaves the gate open.
func (s *State) authenticate(r *http.Request) error {
	token := s.Cfg.Auth.Token
	if token == "" {
		return nil
	}
	if presented, ok := bearerToken(r); ok {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return nil
		}
		return apierr.AuthInvalid()
	}
	if isWSUpgrade(r) {
		if nonce := r.URL.Query().Get("ticket"); nonce != "" && s.Tickets.Validate(nonce) {
			return nil
		}
	}
	return apierr.AuthRequired()
}

// checkOrigin gates WebSocket upgrades from browsers: no Origin header
// passes (non-browser clients), otherwise the header must exactly match one
// of the allowed origins.
func (s *State) checkOrigin(r *http.Request) error {
	if !isWSUpgrade(r) {
		return nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	for _, allowed := range s.Cfg.Auth.AllowedOrigins {
		if origin == allowed {
			return nil
		}
	}
	return apierr.OriginNotAllowed(origin)
}

// protect wraps a handler with the rate limit, auth, and origin gates.
func (s *State) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if err := s.authenticate(r); err != nil {
			writeErr(w, err)
			return
		}
		if err := s.checkOrigin(r); err != nil {
			writeErr(w, err)
			return
		}
		next(w, r)
	}
}

// protectBearerOnly is protect without the ticket fallback; the ticket mint
// endpoint uses it so tickets cannot mint tickets.
func (s *State) protectBearerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		token := s.Cfg.Auth.Token
		if token != "" {
			presented, ok := bearerToken(r)
			if !ok {
				writeErr(w, apierr.AuthRequired())
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeErr(w, apierr.AuthInvalid())
				return
			}
		}
		next(w, r)
	}
}
