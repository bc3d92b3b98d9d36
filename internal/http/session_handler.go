package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"carebook/internal/authstate"
	"carebook/internal/identity"
	"carebook/internal/route"
	"carebook/internal/session"
)

const clientCookieName = "carebook_client"

type cookieFactory struct {
	secure bool
	ttl    time.Duration
}

func newCookieFactory(env string, ttl time.Duration) cookieFactory {
	return cookieFactory{secure: !strings.EqualFold(env, "development"), ttl: ttl}
}

func (f cookieFactory) client(token string) *http.Cookie {
	return &http.Cookie{
		Name:     clientCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   f.secure,
		MaxAge:   int(f.ttl.Seconds()),
		Expires:  time.Now().Add(f.ttl),
	}
}

func (f cookieFactory) clearClient() *http.Cookie {
	return &http.Cookie{
		Name:     clientCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   f.secure,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

type registrar interface {
	Register(ctx context.Context, creds identity.Credentials, displayName string) (identity.Identity, error)
}

// SessionHandler signs clients in and out and reports their auth state.
type SessionHandler struct {
	manager  *session.Manager
	accounts registrar
	cookies  cookieFactory
	settle   time.Duration
	logger   *slog.Logger
}

// NewSessionHandler wires the sign-in endpoints.
func NewSessionHandler(manager *session.Manager, accounts registrar, cookies cookieFactory, settle time.Duration, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		manager:  manager,
		accounts: accounts,
		cookies:  cookies,
		settle:   settle,
		logger:   logger,
	}
}

type credentialsPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// SignIn handles POST /api/session with an email/password pair.
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())

	var payload credentialsPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	ident, err := client.Session.SignIn(r.Context(), identity.Credentials{Email: payload.Email, Password: payload.Password})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.logger.Info("sign-in successful", "identity_id", ident.ID)
	state := awaitSettled(r.Context(), client, h.settle)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": state.Authenticated(),
		"state":         newStateView(state, client.Session.Current()),
	})
}

// Register handles POST /api/register. The new identity is signed in without
// a profile and is routed to profile completion.
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	if h.accounts == nil {
		writeError(w, http.StatusNotFound, "registration is disabled")
		return
	}

	var payload credentialsPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	ident, err := h.accounts.Register(r.Context(), identity.Credentials{Email: payload.Email, Password: payload.Password}, payload.DisplayName)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, "An account with this email already exists.")
		return
	default:
		h.writeAuthError(w, err)
		return
	}

	client.Session.Establish(ident)
	h.logger.Info("account registered", "identity_id", ident.ID)

	state := awaitSettled(r.Context(), client, h.settle)
	writeJSON(w, http.StatusCreated, map[string]any{
		"authenticated": state.Authenticated(),
		"state":         newStateView(state, client.Session.Current()),
	})
}

// Status handles GET /api/session. With ?path= it also returns the guard
// decision for that path, so a client-side router can reconcile locally.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	state := client.State()

	response := map[string]any{
		"authenticated": state.Authenticated(),
		"state":         newStateView(state, client.Session.Current()),
	}
	if p := r.URL.Query().Get("path"); p != "" {
		response["decision"] = newDecisionView(p, route.Decide(state, p))
	}
	writeJSON(w, http.StatusOK, response)
}

// SignOut handles DELETE /api/session.
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	client.Session.SignOut()
	h.manager.Forget(r.Context(), clientTokenFromContext(r.Context()))

	http.SetCookie(w, h.cookies.clearClient())
	w.WriteHeader(http.StatusNoContent)
}

// Token handles GET /api/token. ?force=true mints a new token.
func (h *SessionHandler) Token(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	force := strings.EqualFold(r.URL.Query().Get("force"), "true")

	token, err := client.Session.FreshToken(r.Context(), force)
	if err != nil {
		if errors.Is(err, identity.ErrNoIdentity) {
			unauthorized(w)
			return
		}
		h.logger.Error("failed to mint id token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (h *SessionHandler) writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		status = http.StatusUnauthorized
	case errors.Is(err, identity.ErrNetwork):
		status = http.StatusBadGateway
	case errors.Is(err, identity.ErrProviderDown):
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusUnauthorized {
		h.logger.Warn("sign-in failed", "error", err)
	}
	writeError(w, status, identity.UserMessage(err))
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "authentication required")
}

func stateOf(r *http.Request) authstate.State {
	if client := ClientFromContext(r.Context()); client != nil {
		return client.State()
	}
	return authstate.Unknown()
}
