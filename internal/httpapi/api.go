// Package httpapi is the REST surface of the service. Routing is plain
// net/http; handlers delegate to the container, user and password services
// and translate their errors to stable JSON payloads.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"orgdir.org/internal/audit"
	"orgdir.org/internal/container"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/obs"
	"orgdir.org/internal/password"
	"orgdir.org/internal/users"
	"orgdir.org/internal/validation"
)

// ReadyProbe pings the backing stores for /readyz.
type ReadyProbe struct {
	DB        *sql.DB
	Directory interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Directory != nil {
		return rp.Directory.Ping(ctx)
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokenSecret []byte

	groups    *container.Resource
	companies *container.Resource
	scopes    *container.ScopeService
	users     *users.Service
	passwords *password.Service
}

// Config wires the API to its services.
type Config struct {
	ReadyProbe  ReadyProbe
	Version     string
	TokenSecret string

	Groups    *container.Resource
	Companies *container.Resource
	Scopes    *container.ScopeService
	Users     *users.Service
	Passwords *password.Service
}

// New builds the API and registers every route.
func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
		tokenSecret: []byte(cfg.TokenSecret),
		groups:      cfg.Groups,
		companies:   cfg.Companies,
		scopes:      cfg.Scopes,
		users:       cfg.Users,
		passwords:   cfg.Passwords,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/groups", a.handleContainers(func() *container.Resource { return a.groups }))
	a.mux.HandleFunc("/v1/groups/", a.handleContainerScoped(func() *container.Resource { return a.groups }))
	a.mux.HandleFunc("/v1/companies", a.handleContainers(func() *container.Resource { return a.companies }))
	a.mux.HandleFunc("/v1/companies/", a.handleContainerScoped(func() *container.Resource { return a.companies }))
	a.mux.HandleFunc("/v1/scopes", a.handleScopes)
	a.mux.HandleFunc("/v1/scopes/", a.handleScopeScoped)

	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)

	a.mux.HandleFunc("/v1/password", a.handlePasswordUpdate)
	a.mux.HandleFunc("/v1/password/", a.handlePasswordScoped)

	a.mux.HandleFunc("/v1/batch/", a.handleBatch)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "orgdir-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "orgdir-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// audit records a completed mutation on the trail.
func (a *API) audit(r *http.Request, actor, action, target string) {
	audit.Log(audit.Event{
		Actor:     actor,
		Action:    action,
		Target:    target,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// handleServiceError maps the service error taxonomy onto HTTP. Unknown ids
// and forbidden targets share one 404; validation failures carry the field
// and the reason code.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := validation.As(err); ok {
		payload := map[string]any{
			"error":  "validation",
			"field":  verr.Field,
			"reason": verr.Reason,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
		return
	}
	if errors.Is(err, directory.ErrUnknownID) {
		writeError(w, r, http.StatusNotFound, "unknown id")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "operation failed")
}
