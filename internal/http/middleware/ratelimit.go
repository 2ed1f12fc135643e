package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alexey-tyurin/messaging-service/internal/metrics"
	"github.com/alexey-tyurin/messaging-service/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
)

// ClientIDHeader identifies the caller for admission control; the remote IP
// is the fallback for callers that do not send it.
const ClientIDHeader = "X-Client-Id"

// RateLimitConfig configures the sliding-window admission middleware.
type RateLimitConfig struct {
	Limiter  *ratelimit.Limiter
	Limit    int           // requests per window per client
	Window   time.Duration // usually a minute
	Endpoint string        // logical endpoint name for keys and metrics
}

// RateLimitMiddleware enforces a per-client sliding-window limit. Every
// response carries X-RateLimit-* headers; rejections add Retry-After.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Limiter == nil || cfg.Limit <= 0 {
				return next(c)
			}

			clientKey := c.Request().Header.Get(ClientIDHeader)
			if clientKey == "" {
				clientKey = c.RealIP()
			}

			d := cfg.Limiter.Check(c.Request().Context(), clientKey, cfg.Endpoint, cfg.Limit, cfg.Window)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.Itoa(int(d.Reset.Round(time.Second)/time.Second)))

			if !d.Allowed {
				metrics.RateLimitRejectedTotal.WithLabelValues(cfg.Endpoint).Inc()
				retryAfter := int(d.Reset.Round(time.Second) / time.Second)
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":       "rate limited",
					"retry_after": retryAfter,
				})
			}
			return next(c)
		}
	}
}
