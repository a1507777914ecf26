package handler

import "net/http"

// OnboardingResponse describes onboarding progress.
type OnboardingResponse struct {
	Step      string `json:"step"`
	Completed bool   `json:"completed"`
}

// Onboarding returns the current onboarding step.
//
// GET /v1/onboarding
func (h *Handler) Onboarding(w http.ResponseWriter, r *http.Request) {
	h.writeOnboarding(w, r)
}

// ContinueOnboarding advances onboarding.
//
// POST /v1/onboarding/continue
func (h *Handler) ContinueOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.onboarding.Continue(r.Context()); err != nil {
		h.writeSettingsError(w, r, err)
		return
	}
	h.writeOnboarding(w, r)
}

// LaterOnboarding marks onboarding complete without signing in.
//
// POST /v1/onboarding/later
func (h *Handler) LaterOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.onboarding.Later(r.Context()); err != nil {
		h.writeSettingsError(w, r, err)
		return
	}
	h.writeOnboarding(w, r)
}

func (h *Handler) writeOnboarding(w http.ResponseWriter, r *http.Request) {
	completed, err := h.onboarding.Completed(r.Context())
	if err != nil {
		h.writeSettingsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OnboardingResponse{
		Step:      h.onboarding.State().String(),
		Completed: completed,
	})
}

func (h *Handler) writeSettingsError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("settings failure", "error", err, "request_id", requestID(r))
	writeError(w, http.StatusInternalServerError, "SETTINGS_ERROR", "Failed to access settings")
}
