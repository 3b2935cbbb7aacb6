package httpapi

import (
	"net/http"
	"strings"

	"orgdir.org/internal/directory"
	"orgdir.org/internal/users"
)

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		var list []*directory.User
		var err error
		if by := q.Get("by"); by != "" {
			list, err = a.users.FindAllBy(r.Context(), principal, by, q.Get("value"))
		} else {
			list, err = a.users.FindAll(r.Context(), principal, q.Get("filter"))
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var edit users.Edition
		if err := decodeJSON(w, r, &edit); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.users.Create(r.Context(), principal, edit)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, principal, "user.create", user.ID)
		w.Header().Set("Location", "/v1/users/"+user.ID)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUserScoped serves /v1/users/{id} plus the lifecycle transitions and
// membership endpoints beneath it.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			user, err := a.users.FindByID(r.Context(), principal, id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, user)
		case http.MethodPut:
			var edit users.Edition
			if err := decodeJSON(w, r, &edit); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			edit.ID = id
			if err := a.users.Update(r.Context(), principal, edit); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r, principal, "user.update", id)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := a.users.Delete(r.Context(), principal, id); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r, principal, "user.delete", id)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var err error
		switch parts[1] {
		case "lock":
			err = a.users.Lock(r.Context(), principal, id)
		case "unlock":
			err = a.users.Unlock(r.Context(), principal, id)
		case "isolate":
			err = a.users.Isolate(r.Context(), principal, id)
		case "restore":
			err = a.users.Restore(r.Context(), principal, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, principal, "user."+parts[1], id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// /v1/users/{id}/groups/{group}
	if len(parts) == 3 && parts[1] == "groups" {
		group := parts[2]
		var (
			err    error
			action string
		)
		switch r.Method {
		case http.MethodPut:
			err = a.users.AddToGroup(r.Context(), principal, id, group)
			action = "user.group.add"
		case http.MethodDelete:
			err = a.users.RemoveFromGroup(r.Context(), principal, id, group)
			action = "user.group.remove"
		default:
			methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
			return
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, principal, action, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}
