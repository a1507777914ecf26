package handler

import (
	"errors"
	"net/http"

	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/model"
)

// SessionResponse describes the current session.
type SessionResponse struct {
	Phase     string      `json:"phase"`
	UserID    string      `json:"user_id,omitempty"`
	Anonymous bool        `json:"anonymous"`
	User      *model.User `json:"user,omitempty"`
}

// NonceResponse carries the hashed nonce to embed in the provider request.
type NonceResponse struct {
	NonceSHA256 string `json:"nonce_sha256"`
}

// CompleteSignInRequest is the body of POST /v1/auth/complete.
type CompleteSignInRequest struct {
	IDToken   string `json:"id_token"`
	Email     string `json:"email,omitempty"`
	GivenName string `json:"given_name,omitempty"`
}

// Session returns the current session phase.
//
// GET /v1/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	st := h.flow.State()

	resp := SessionResponse{
		Phase:     st.Phase.String(),
		UserID:    st.Session.UserID,
		Anonymous: st.Session.Anonymous,
	}
	if st.User.ID != "" {
		u := st.User
		resp.User = &u
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me returns the cached profile of the signed-in user.
//
// GET /v1/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := h.cache.Get()
	if !ok {
		writeError(w, http.StatusNotFound, "NO_PROFILE", "No profile is loaded")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// RequestNonce starts a sign-in and returns the hashed nonce.
//
// POST /v1/auth/nonce
func (h *Handler) RequestNonce(w http.ResponseWriter, r *http.Request) {
	hash, err := h.flow.RequestSignIn(r.Context())
	if err != nil {
		h.writeFlowError(w, r, "request_sign_in", err)
		return
	}
	writeJSON(w, http.StatusCreated, NonceResponse{NonceSHA256: hash})
}

// CompleteSignIn exchanges the provider's ID token for a session.
//
// POST /v1/auth/complete
func (h *Handler) CompleteSignIn(w http.ResponseWriter, r *http.Request) {
	var req CompleteSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}
	if req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id_token is required")
		return
	}

	u, err := h.flow.CompleteSignIn(r.Context(), identity.Completion{
		IDToken:   req.IDToken,
		Email:     req.Email,
		GivenName: req.GivenName,
	})
	if err != nil {
		h.writeFlowError(w, r, "complete_sign_in", err)
		return
	}

	h.logger.Info("sign-in completed", "user_id", u.ID, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, u)
}

// SignOut ends the provider session.
//
// POST /v1/auth/sign-out
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.SignOut(r.Context()); err != nil {
		h.writeFlowError(w, r, "sign_out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount removes the profile and the provider account.
//
// DELETE /v1/account
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.DeleteAccount(r.Context()); err != nil {
		h.writeFlowError(w, r, "delete_account", err)
		return
	}
	h.logger.Info("account deleted", "request_id", requestID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON")
}
