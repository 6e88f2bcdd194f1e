package echoapi

import (
	"net"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused client limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type (
	// rateLimiter hands out one token bucket per client IP.
	rateLimiter struct {
		mu         sync.Mutex
		limit      rate.Limit
		burst      int
		trustProxy bool
		clients    map[string]*client
		lastScan   time.Time
	}

	client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
)

func newRateLimiter(perSecond float64, burst int, trustProxy bool) *rateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit:      limit,
		burst:      burst,
		trustProxy: trustProxy,
		clients:    make(map[string]*client),
	}
}

func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastScan) > idleLimiterTTL {
		for key, c := range rl.clients {
			if now.Sub(c.lastSeen) > idleLimiterTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastScan = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !rl.allow(rl.clientIP(ctx), time.Now()) {
				ctx.Response().Header().Set("Retry-After", "60")
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

// clientIP is the socket peer, unless the server sits behind a trusted proxy.
// Forwarded headers are client controlled otherwise.
func (rl *rateLimiter) clientIP(ctx echo.Context) string {
	if rl.trustProxy {
		return ctx.RealIP()
	}
	addr := ctx.Request().RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
