package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"carebook/internal/config"
	"carebook/internal/patients"
	"carebook/internal/platform/metrics"
	"carebook/internal/session"
)

// Services groups the components the router exposes.
type Services struct {
	Sessions   *session.Manager
	Accounts   registrar
	Completion profileWriter
	Patients   *patients.Service
	// Google is nil when Google sign-in is not configured.
	Google googleAuthenticator
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, svc Services, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger))
	r.Use(newMetricsMiddleware())
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
			"store":       cfg.DataStore,
		})
	})
	r.Handle("/metrics", metrics.Handler())

	cookies := newCookieFactory(cfg.Environment, cfg.SessionTTL)
	sessionHandler := NewSessionHandler(svc.Sessions, svc.Accounts, cookies, cfg.GuardSettleTimeout, logger)
	profileHandler := NewProfileHandler(svc.Completion, cfg.GuardSettleTimeout, logger)
	pages := NewPageHandler(svc.Patients, svc.Google != nil, logger)
	patientHandler := NewPatientHandler(svc.Patients, cfg.GuardSettleTimeout, logger)

	if svc.Google == nil {
		logger.Info("Google sign-in disabled; AUTH_GOOGLE_CLIENT_ID is not set")
	}

	r.Group(func(r chi.Router) {
		r.Use(newClientMiddleware(svc.Sessions, cookies, logger))

		r.Route("/api", func(r chi.Router) {
			r.Route("/session", func(r chi.Router) {
				r.Post("/", sessionHandler.SignIn)
				r.Get("/", sessionHandler.Status)
				r.Delete("/", sessionHandler.SignOut)
			})
			r.Post("/register", sessionHandler.Register)
			r.Post("/profile", profileHandler.Complete)
			r.Get("/token", sessionHandler.Token)
			r.Route("/patients", func(r chi.Router) {
				r.Post("/", patientHandler.Create)
				r.Delete("/{id}", patientHandler.Remove)
			})

			if svc.Google != nil {
				oauthHandler := NewOAuthHandler(svc.Google, cfg.FrontendURL, cfg.Environment, logger)
				r.Get("/auth/google", oauthHandler.InitiateGoogle)
				r.Get("/auth/google/callback", oauthHandler.CallbackGoogle)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(newGuardMiddleware(cfg.GuardSettleTimeout, logger))
			r.Get("/", pages.Home)
			r.Get("/login", pages.Login)
			r.Get("/register", pages.Register)
			r.Get("/complete-profile", pages.CompleteProfile)
			r.Get("/dashboard", pages.Dashboard)
			r.Get("/patient/{id}", pages.Patient)
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
