package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carebook/internal/patients"
	"carebook/internal/profile"
)

// PageHandler renders the JSON view models of the guarded pages. Every
// handler runs after the guard, so the auth state is already settled.
type PageHandler struct {
	patients      *patients.Service
	googleEnabled bool
	logger        *slog.Logger
}

// NewPageHandler creates a handler.
func NewPageHandler(patientSvc *patients.Service, googleEnabled bool, logger *slog.Logger) *PageHandler {
	return &PageHandler{patients: patientSvc, googleEnabled: googleEnabled, logger: logger}
}

func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"page":  "home",
		"state": newStateView(client.State(), client.Session.Current()),
	})
}

func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"page":          "login",
		"googleEnabled": h.googleEnabled,
		"error":         r.URL.Query().Get("error"),
		"message":       r.URL.Query().Get("message"),
	})
}

func (h *PageHandler) Register(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"page":          "register",
		"googleEnabled": h.googleEnabled,
	})
}

// CompleteProfile renders the completion form for a signed-in identity
// without a profile.
func (h *PageHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	client := ClientFromContext(r.Context())
	ident := client.Session.Current()
	if ident == nil {
		// Unauthenticated visitors reach the form too; there is nobody to complete it for.
		writeJSON(w, http.StatusOK, map[string]any{"page": "complete-profile", "signedIn": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"page":     "complete-profile",
		"signedIn": true,
		"identity": ident,
		"roles":    []profile.Role{profile.RolePatient, profile.RoleDoctor},
	})
}

// Dashboard renders the patient or doctor dashboard.
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	viewer := stateOf(r).Profile()

	switch p := viewer.(type) {
	case profile.Patient:
		response := map[string]any{
			"page":        "dashboard",
			"view":        "patient",
			"displayName": p.DisplayName,
			"patientId":   p.PatientDataID,
		}
		rec, err := h.patients.Get(r.Context(), p, p.PatientDataID)
		switch {
		case err == nil:
			response["record"] = rec
		case errors.Is(err, patients.ErrNotFound):
			response["record"] = nil
		default:
			h.logger.Error("load patient record", "patient_id", p.PatientDataID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load patient record")
			return
		}
		writeJSON(w, http.StatusOK, response)
	case profile.Doctor:
		writeJSON(w, http.StatusOK, map[string]any{
			"page":             "dashboard",
			"view":             "doctor",
			"displayName":      p.DisplayName,
			"assignedPatients": sortedAssignments(p),
		})
	default:
		writeError(w, http.StatusForbidden, "profile required")
	}
}

// Patient renders /patient/{id}.
func (h *PageHandler) Patient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.patients.Get(r.Context(), stateOf(r).Profile(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"page": "patient", "patient": rec})
	case errors.Is(err, patients.ErrForbidden):
		writeError(w, http.StatusForbidden, "You do not have access to this patient.")
	case errors.Is(err, patients.ErrNotFound):
		writeError(w, http.StatusNotFound, "Patient not found")
	default:
		h.logger.Error("load patient record", "patient_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load patient record")
	}
}
