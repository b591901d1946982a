package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/authguard/internal/auth"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

// RateLimitConfig holds edge rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAdminRateLimit returns the default edge limit for the admin API
func DefaultAdminRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 100,
	}
}

// RateLimitByIP throttles requests per client IP as resolved by ClientIP.
// This is a coarse in-process guard for the admin surface; login and
// registration limits live in services.RateLimitService.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return GetClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByOperator throttles authenticated requests per operator id,
// falling back to the client IP. Mount after auth.AuthMiddleware.
func RateLimitByOperator(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "operator:" + claims.UserID, nil
			}
			return "ip:" + GetClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded", time.Minute)
}
