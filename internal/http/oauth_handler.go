package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carebook/internal/identity"
)

// oauthStatePayload holds the CSRF state and optional redirect path.
type oauthStatePayload struct {
	State      string `json:"s"`
	RedirectTo string `json:"r,omitempty"`
}

// isValidRedirectPath reports whether path is a safe relative redirect: a
// single leading "/", no scheme or host, even after URL decoding.
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

const (
	oauthStateCookieName = "carebook_oauth_state"
	oauthStateCookieTTL  = 10 * time.Minute
)

type googleAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*identity.GoogleClaims, error)
	IsEmailAllowed(email string) bool
}

// OAuthHandler handles Google sign-in.
type OAuthHandler struct {
	google       googleAuthenticator
	logger       *slog.Logger
	secureCookie bool
	frontendURL  string
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(google googleAuthenticator, frontendURL, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		google:       google,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		frontendURL:  strings.TrimSuffix(frontendURL, "/"),
	}
}

// InitiateGoogle handles GET /api/auth/google
// Redirects the user to Google's OAuth consent screen.
func (h *OAuthHandler) InitiateGoogle(w http.ResponseWriter, r *http.Request) {
	state, err := identity.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	redirectTo := r.URL.Query().Get("redirectTo")
	payload := oauthStatePayload{State: state}
	if redirectTo != "" && isValidRedirectPath(redirectTo) {
		payload.RedirectTo = redirectTo
	}

	// Encode state as base64 JSON to avoid delimiter issues
	stateJSON, _ := json.Marshal(payload)
	fullState := base64.RawURLEncoding.EncodeToString(stateJSON)

	http.Redirect(w, r, h.google.AuthURL(fullState), http.StatusTemporaryRedirect)
}

// CallbackGoogle handles GET /api/auth/google/callback
// Exchanges the authorization code and signs the verified identity into the
// calling client's session.
func (h *OAuthHandler) CallbackGoogle(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing state cookie")
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return
	}

	stateParam := r.URL.Query().Get("state")
	expectedState := stateCookie.Value
	redirectTo := "/"

	stateBytes, err := base64.RawURLEncoding.DecodeString(stateParam)
	if err != nil {
		h.logger.Warn("oauth callback: invalid state encoding")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	var statePayload oauthStatePayload
	if err := json.Unmarshal(stateBytes, &statePayload); err != nil {
		h.logger.Warn("oauth callback: invalid state JSON")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	if statePayload.RedirectTo != "" && isValidRedirectPath(statePayload.RedirectTo) {
		redirectTo = statePayload.RedirectTo
	}

	if subtle.ConstantTimeCompare([]byte(statePayload.State), []byte(expectedState)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, r.URL.Query().Get("error_description"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "invalid_request", "Missing authorization code.")
		return
	}

	claims, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", "error", err)
		h.redirectWithError(w, r, "exchange_error", identity.UserMessage(err))
		return
	}

	if !claims.EmailVerified {
		h.logger.Warn("oauth callback: email not verified", "email", claims.Email)
		h.redirectWithError(w, r, "email_not_verified", "Please verify your Google email address.")
		return
	}

	if !h.google.IsEmailAllowed(claims.Email) {
		h.logger.Warn("oauth callback: email not allowed", "email", claims.Email)
		h.redirectWithError(w, r, "access_denied", "Your account is not authorized to access this application.")
		return
	}

	client := ClientFromContext(r.Context())
	if client == nil {
		h.logger.Error("oauth callback: no client runtime attached")
		h.redirectWithError(w, r, "internal_error", "Failed to create session.")
		return
	}

	ident := claims.Identity()
	client.Session.Establish(ident)

	h.logger.Info("oauth login successful", "identity_id", ident.ID, "email", ident.Email)

	http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
}

// redirectWithError redirects to the login page with error details.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
