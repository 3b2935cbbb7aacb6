package httpapi

import (
	"net/http"
	"strings"
)

type updatePasswordRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type adminPasswordRequest struct {
	Password string `json:"password,omitempty"`
}

// handlePasswordUpdate is the self-service path: the authenticated user
// proves the current password and chooses a new one.
func (a *API) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.passwords.Update(r.Context(), principal, req.Password, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePasswordScoped serves recovery/{uid}/{mail}, reset/{uid},
// generate/{uid} and cleanup.
func (a *API) handlePasswordScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/password/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[0] {
	case "recovery":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if len(parts) != 3 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		// Deliberately always 204: the outcome never discloses whether the
		// login or the mail is valid.
		if err := a.passwords.RequestRecovery(r.Context(), parts[1], parts[2]); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "reset":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		var req resetPasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.passwords.Reset(r.Context(), parts[1], req.Token, req.Password); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "generate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		principal, ok := a.principal(w, r)
		if !ok {
			return
		}
		// The body is optional: without a password the service generates one.
		var req adminPasswordRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Password != "" {
			if err := a.passwords.Create(r.Context(), parts[1], req.Password, true); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r, principal, "password.set", parts[1])
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if _, err := a.passwords.Generate(r.Context(), parts[1]); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, principal, "password.generate", parts[1])
		w.WriteHeader(http.StatusNoContent)
	case "cleanup":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if _, ok := a.principal(w, r); !ok {
			return
		}
		if err := a.passwords.CleanRecoveries(r.Context()); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
