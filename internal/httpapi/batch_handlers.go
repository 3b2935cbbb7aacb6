package httpapi

import (
	"net/http"
	"strings"

	"orgdir.org/internal/batch"
)

type batchResponse struct {
	Done   int            `json:"done"`
	Errors map[int]string `json:"errors,omitempty"`
}

func batchPayload(result *batch.Result) batchResponse {
	resp := batchResponse{Done: result.Done}
	if len(result.Errors) > 0 {
		resp.Errors = make(map[int]string, len(result.Errors))
		for row, err := range result.Errors {
			resp.Errors[row] = err.Error()
		}
	}
	return resp
}

// handleBatch serves CSV imports at /v1/batch/{groups|users}. Rows go through
// the regular services, one by one, and failures are reported per row.
func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	kind := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/batch/"), "/")

	var (
		result *batch.Result
		err    error
	)
	switch kind {
	case "groups":
		task := &batch.GroupImporter{Groups: a.groups, Scopes: a.scopes}
		result, err = task.Run(r.Context(), principal, r.Body)
	case "users":
		task := &batch.UserImporter{Users: a.users}
		result, err = task.Run(r.Context(), principal, r.Body)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.audit(r, principal, "batch."+kind, "")
	writeJSON(w, http.StatusOK, batchPayload(result))
}
