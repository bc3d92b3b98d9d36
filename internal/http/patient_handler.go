package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	"carebook/internal/patients"
	"carebook/internal/profile"
)

type patientManager interface {
	Create(ctx context.Context, viewer profile.Profile, rec patients.Record) (patients.Record, error)
	Remove(ctx context.Context, viewer profile.Profile, id string) error
}

// PatientHandler lets doctors add and remove patient records.
type PatientHandler struct {
	patients patientManager
	settle   time.Duration
	logger   *slog.Logger
}

// NewPatientHandler creates a handler.
func NewPatientHandler(svc patientManager, settle time.Duration, logger *slog.Logger) *PatientHandler {
	return &PatientHandler{patients: svc, settle: settle, logger: logger}
}

type createPatientRequest struct {
	Name     string  `json:"name"`
	DOB      string  `json:"dob"`
	Gender   string  `json:"gender"`
	HeightCM float64 `json:"height_cm"`
	WeightKG float64 `json:"weight_kg"`
}

// Create handles POST /api/patients.
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var req createPatientRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	rec, err := h.patients.Create(r.Context(), viewer, patients.Record{
		Name:     req.Name,
		DOB:      req.DOB,
		Gender:   req.Gender,
		HeightCM: req.HeightCM,
		WeightKG: req.WeightKG,
	})
	if err != nil {
		var fields validation.Errors
		switch {
		case errors.As(err, &fields):
			out := make(map[string]string, len(fields))
			for k, v := range fields {
				out[k] = v.Error()
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid patient",
				"fields": out,
			})
		case errors.Is(err, patients.ErrForbidden):
			writeError(w, http.StatusForbidden, "Only doctors can add patients.")
		default:
			h.logger.Error("create patient record", "identity_id", viewer.Identity().UID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to add patient.")
		}
		return
	}

	client := ClientFromContext(r.Context())
	client.Observer.ReResolve()
	state := awaitSettled(r.Context(), client, h.settle)
	writeJSON(w, http.StatusCreated, map[string]any{
		"patient": rec,
		"state":   newStateView(state, client.Session.Current()),
	})
}

// Remove handles DELETE /api/patients/{id}.
func (h *PatientHandler) Remove(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	err := h.patients.Remove(r.Context(), viewer, id)
	switch {
	case err == nil:
		ClientFromContext(r.Context()).Observer.ReResolve()
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, patients.ErrNotFound):
		// The stale assignment was cleared.
		ClientFromContext(r.Context()).Observer.ReResolve()
		writeError(w, http.StatusNotFound, "Patient not found")
	case errors.Is(err, patients.ErrForbidden):
		writeError(w, http.StatusForbidden, "You do not have access to this patient.")
	default:
		h.logger.Error("remove patient record", "patient_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to remove patient.")
	}
}

// viewer returns the settled profile of the request's client. It writes 401
// without a signed-in identity and 403 while the identity has no profile.
func (h *PatientHandler) viewer(w http.ResponseWriter, r *http.Request) (profile.Profile, bool) {
	client := ClientFromContext(r.Context())
	if client == nil || client.Session.Current() == nil {
		unauthorized(w)
		return nil, false
	}

	state := awaitSettled(r.Context(), client, h.settle)
	if !state.Authenticated() {
		unauthorized(w)
		return nil, false
	}
	viewer := state.Profile()
	if viewer == nil {
		writeError(w, http.StatusForbidden, "profile required")
		return nil, false
	}
	return viewer, true
}
