package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"carebook/internal/authstate"
	"carebook/internal/platform/metrics"
	"carebook/internal/route"
	"carebook/internal/session"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newSlogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", recorder.status, "duration", duration.String())
		})
	}
}

func newMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					pattern = p
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(recorder.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}

func newSecurityHeadersMiddleware(environment string) func(http.Handler) http.Handler {
	isDev := strings.EqualFold(environment, "development")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
			w.Header().Set("Cache-Control", "no-store")

			if !isDev {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	clientContextKey contextKey = "client"
	tokenContextKey  contextKey = "client_token"
)

// ClientFromContext returns the client runtime attached by the client middleware.
func ClientFromContext(ctx context.Context) *session.Client {
	c, _ := ctx.Value(clientContextKey).(*session.Client)
	return c
}

func clientTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// newClientMiddleware attaches the runtime of the calling client, issuing a
// client cookie on first contact.
func newClientMiddleware(manager *session.Manager, cookies cookieFactory, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if cookie, err := r.Cookie(clientCookieName); err == nil {
				token = strings.TrimSpace(cookie.Value)
			}
			if token == "" {
				generated, err := session.NewToken()
				if err != nil {
					logger.Error("failed to generate client token", "error", err)
					writeError(w, http.StatusInternalServerError, "internal error")
					return
				}
				token = generated
				http.SetCookie(w, cookies.client(token))
			}

			client, err := manager.Attach(r.Context(), token, session.Meta{
				UserAgent: r.UserAgent(),
				IPAddress: clientIPFromRequest(r),
			})
			if err != nil {
				logger.Error("failed to attach client", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), clientContextKey, client)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// newGuardMiddleware evaluates every page navigation against the client's
// auth state. It waits up to settle for an in-flight resolution before
// deciding, so most navigations never see the loading state.
func newGuardMiddleware(settle time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			state := awaitSettled(r.Context(), client, settle)
			decision := route.Decide(state, r.URL.Path)
			metrics.GuardDecisionsTotal.WithLabelValues(string(decision.Kind)).Inc()

			switch decision.Kind {
			case route.Loading:
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusAccepted, map[string]any{
					"status": state.Status(),
					"page":   "loading",
				})
			case route.Redirect:
				logger.Debug("guard redirect", "path", r.URL.Path, "location", decision.Location, "status", state.Status())
				http.Redirect(w, r, decision.Location, http.StatusFound)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func awaitSettled(ctx context.Context, client *session.Client, settle time.Duration) authstate.State {
	if settle <= 0 {
		return client.State()
	}
	ctx, cancel := context.WithTimeout(ctx, settle)
	defer cancel()

	// On timeout Await returns the latest state, which the guard maps to loading.
	state, _ := client.Observer.Store().Await(ctx, authstate.State.Settled)
	return state
}

// clientIPFromRequest prefers the address set by middleware.RealIP.
func clientIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
