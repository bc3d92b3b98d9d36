package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"carebook/internal/completion"
	"carebook/internal/identity"
	"carebook/internal/profile"
	"carebook/internal/route"
)

type profileWriter interface {
	Complete(ctx context.Context, ident identity.Identity, in completion.Input, after completion.ReResolver) (profile.Profile, error)
}

// ProfileHandler exposes profile completion.
type ProfileHandler struct {
	writer profileWriter
	settle time.Duration
	logger *slog.Logger
}

// NewProfileHandler creates a handler.
func NewProfileHandler(writer profileWriter, settle time.Duration, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{writer: writer, settle: settle, logger: logger}
}

// Complete handles POST /api/profile.
func (h *ProfileHandler) Complete(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	ident := client.Session.Current()
	if ident == nil {
		unauthorized(w)
		return
	}

	var in completion.Input
	if err := decodeJSONBody(w, r, &in); err != nil {
		writeJSONError(w, err)
		return
	}

	if _, err := h.writer.Complete(r.Context(), *ident, in, client.Observer); err != nil {
		var invalid *completion.InvalidInputError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid profile",
				"fields": invalid.Fields,
			})
		case errors.Is(err, completion.ErrProfileExists):
			writeError(w, http.StatusConflict, "A profile already exists for this account.")
		case errors.Is(err, completion.ErrWriteFailed):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":     "Failed to save profile. Please try again.",
				"retryable": true,
			})
		default:
			h.logger.Error("profile completion failed", "identity_id", ident.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	state := awaitSettled(r.Context(), client, h.settle)
	writeJSON(w, http.StatusCreated, map[string]any{
		"state":      newStateView(state, ident),
		"redirectTo": route.Dashboard,
	})
}
