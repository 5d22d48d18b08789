package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tilecast/pkg/config"
	"tilecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// ClientIP extracts the caller address, preferring the first X-Forwarded-For
// hop when the request came through a proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func abortRateLimited(c *gin.Context) {
	appErr := errors.NewRateLimitError()
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		// Global concurrent requests throttling
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				appErr := errors.NewServiceUnavailableError("too many concurrent requests")
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
				return
			}
		}

		if !store.getLimiter(ClientIP(c.Request)).Allow() {
			abortRateLimited(c)
			return
		}
		c.Next()
	}
}

// WebSocketLimiter throttles viewer connections per IP, caps concurrent
// connections and hands out per-connection message limiters.
type WebSocketLimiter struct {
	enabled     bool
	connections *rateLimiterStore
	sem         chan struct{}
	msgRate     rate.Limit
	msgBurst    int
	maxMessage  int64
}

func NewWebSocketLimiter(cfg *config.Config) *WebSocketLimiter {
	ws := cfg.RateLimiting.WebSocket
	l := &WebSocketLimiter{
		enabled:    cfg.RateLimiting.Enabled,
		maxMessage: ws.MaxMessageSizeBytes,
	}
	if !l.enabled {
		return l
	}

	l.connections = newRateLimiterStore(rate.Every(time.Minute/time.Duration(ws.ConnectionsPerMinute)), ws.ConnectionsPerMinute)
	l.msgRate = rate.Limit(ws.MessagesPerSecond)
	l.msgBurst = ws.Burst
	if ws.MaxConcurrent > 0 {
		l.sem = make(chan struct{}, ws.MaxConcurrent)
	}
	return l
}

// Acquire admits a new connection from ip. The returned release must be
// called once the connection closes.
func (l *WebSocketLimiter) Acquire(ip string) (release func(), ok bool) {
	if !l.enabled {
		return func() {}, true
	}
	if !l.connections.getLimiter(ip).Allow() {
		return nil, false
	}
	if l.sem == nil {
		return func() {}, true
	}
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, true
	default:
		return nil, false
	}
}

// MessageLimiter returns a fresh limiter for one connection, or nil when
// messages are not limited.
func (l *WebSocketLimiter) MessageLimiter() *rate.Limiter {
	if !l.enabled {
		return nil
	}
	return rate.NewLimiter(l.msgRate, l.msgBurst)
}

// MaxMessageSize is the read limit for one inbound message; zero means none.
func (l *WebSocketLimiter) MaxMessageSize() int64 {
	return l.maxMessage
}
