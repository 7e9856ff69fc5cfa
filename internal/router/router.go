package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/rfcarvalho/aegis/internal/api/admin"
	"github.com/rfcarvalho/aegis/internal/api/audit"
	"github.com/rfcarvalho/aegis/internal/api/auth"
)

// Config contains the handlers and middleware needed for the router setup.
type Config struct {
	AuthHandler  *auth.AuthHandler
	AdminHandler *admin.AdminHandler
	AuditHandler *audit.AuditHandler

	AuthenticateMiddleware func(http.Handler) http.Handler
	RequireAdmin           func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are applied before
// mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.RefreshToken)
			r.Get("/auth/{provider}", cfg.AuthHandler.BeginOAuth)
			r.Get("/auth/{provider}/callback", cfg.AuthHandler.OAuthCallback)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout", cfg.AuthHandler.Logout)
			r.Post("/auth/invalidate-tokens", cfg.AuthHandler.LogoutAll)
			r.Get("/auth/session", cfg.AuthHandler.GetSession)
		})

		// Admin routes: authenticated AND holding the admin role, checked
		// against the store on every request.
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)
			r.Use(cfg.RequireAdmin)

			r.Get("/admin/users", cfg.AdminHandler.ListUsers)
			r.Patch("/admin/users/{userID}", cfg.AdminHandler.UpdateUserRole)
			r.Delete("/admin/users/{userID}", cfg.AdminHandler.DeleteUser)
			r.Get("/admin/audit", cfg.AuditHandler.ListAuditLogs)
		})
	})

	return r
}
