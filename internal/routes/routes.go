package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/models"
)

// RegisterRoutes registers the health, metrics, auth guard and admin security routes
func RegisterRoutes(
	router chi.Router,
	securityHandler *handlers.SecurityHandler,
	guardHandler *handlers.GuardHandler,
	healthHandler *handlers.HealthHandler,
	metricsHandler http.Handler,
	tokens auth.TokenValidator,
	rateLimitConfig middleware.RateLimitConfig,
) {
	// Public routes - no authentication required
	router.Get("/health", healthHandler.Health)
	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Auth guard API - called by host applications with a service token
	router.Route("/guard", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokens))
		r.Use(auth.RequireRole(models.RoleService))

		r.Post("/login/check", guardHandler.CheckLogin)
		r.Post("/login/failure", guardHandler.LoginFailure)
		r.Post("/login/success", guardHandler.LoginSuccess)
		r.Post("/registration/check", guardHandler.CheckRegistration)
		r.Post("/registration", guardHandler.Registration)
		r.Post("/password-reset/request", guardHandler.PasswordResetRequest)
		r.Post("/password-reset/complete", guardHandler.PasswordResetComplete)
		r.Post("/token-events", guardHandler.TokenEvent)
	})

	// Admin security API - operator token with admin role required
	router.Route("/admin/security", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokens))
		r.Use(auth.RequireRole(models.RoleAdmin))
		r.Use(middleware.RateLimitByOperator(rateLimitConfig))

		r.Get("/events", securityHandler.ListEvents)
		r.Get("/patterns", securityHandler.ScanPatterns)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", securityHandler.ListAlerts)
			r.Get("/stats", securityHandler.AlertStats)
			r.Post("/check", securityHandler.CheckAlerts)
			r.Delete("/acknowledged", securityHandler.ClearAcknowledged)
			r.Post("/{id}/acknowledge", securityHandler.AcknowledgeAlert)
		})

		r.Get("/thresholds", securityHandler.ListThresholds)
		r.Patch("/thresholds/{name}", securityHandler.UpdateThreshold)

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/", securityHandler.MonitorStatus)
			r.Post("/start", securityHandler.StartMonitor)
			r.Post("/stop", securityHandler.StopMonitor)
			r.Post("/run", securityHandler.RunMonitor)
		})

		r.Get("/lockouts/{email}", securityHandler.GetLockout)
		r.Delete("/lockouts/{email}", securityHandler.ClearLockout)
		r.Get("/attempts/{email}", securityHandler.GetAttempts)
		r.Delete("/attempts/{email}", securityHandler.ResetAttempts)
	})
}
