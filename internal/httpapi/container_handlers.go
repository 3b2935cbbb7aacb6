package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"orgdir.org/internal/container"
	"orgdir.org/internal/directory"
)

func kindOf(res *container.Resource) string {
	if res.Type() == directory.TypeGroup {
		return "group"
	}
	return "company"
}

func criteriaFromQuery(r *http.Request) container.Criteria {
	q := r.URL.Query()
	crit := container.Criteria{Filter: q.Get("filter")}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		crit.Offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		crit.Limit = v
	}
	return crit
}

// handleContainers serves the collection endpoints of one container type.
func (a *API) handleContainers(res func() *container.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := a.principal(w, r)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			page, err := res().FindAll(r.Context(), principal, criteriaFromQuery(r))
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
		case http.MethodPost:
			var edit container.Edition
			if err := decodeJSON(w, r, &edit); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			view, err := res().Create(r.Context(), principal, edit)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r, principal, kindOf(res())+".create", view.ID)
			writeJSON(w, http.StatusCreated, view)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	}
}

// handleContainerScoped serves /v1/<kind>/{id}[/exists|/empty].
func (a *API) handleContainerScoped(res func() *container.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := a.principal(w, r)
		if !ok {
			return
		}
		resource := res()
		prefix := "/v1/companies/"
		if resource.Type() == directory.TypeGroup {
			prefix = "/v1/groups/"
		}
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")
		if len(parts) == 0 || parts[0] == "" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		id := parts[0]

		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				view, err := resource.FindByID(r.Context(), id)
				if err != nil {
					handleServiceError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, view)
			case http.MethodDelete:
				if err := resource.Delete(r.Context(), principal, id); err != nil {
					handleServiceError(w, r, err)
					return
				}
				a.audit(r, principal, kindOf(resource)+".delete", id)
				w.WriteHeader(http.StatusNoContent)
			default:
				methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
			}
			return
		}

		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		switch parts[1] {
		case "exists":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			found, err := resource.Exists(r.Context(), id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, found)
		case "empty":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			if err := resource.Empty(r.Context(), principal, id); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r, principal, "group.empty", id)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	}
}

func (a *API) handleScopes(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if typ, ok := directory.ParseContainerType(r.URL.Query().Get("type")); ok {
			scopes, err := a.scopes.FindByType(r.Context(), typ)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, scopes)
			return
		}
		scopes, err := a.scopes.FindAll(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, scopes)
	case http.MethodPost:
		var scope container.Scope
		if err := decodeJSON(w, r, &scope); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.scopes.Create(r.Context(), &scope); err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, scope)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleScopeScoped(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/scopes/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		scope, err := a.scopes.FindByID(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, scope)
	case http.MethodDelete:
		if err := a.scopes.Delete(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
