// Package audit writes the administrative audit trail. Every mutation of the
// directory is recorded as one JSON line with the acting principal, the
// action and its target.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"orgdir.org/internal/obs"
)

// Event is one audit trail entry.
type Event struct {
	// Actor is the authenticated principal performing the action.
	Actor string `json:"actor"`
	// Action names the operation, dotted: "user.lock", "group.create".
	Action string `json:"action"`
	// Target is the id of the affected entry.
	Target string `json:"target,omitempty"`
	// RequestID correlates the entry with the request log.
	RequestID string `json:"request_id,omitempty"`
	// Fields carries operation-specific detail.
	Fields map[string]any `json:"fields,omitempty"`
}

// Log writes the event. Audit failures are swallowed: the mutation already
// happened and must not be reported as failed.
func Log(event Event) {
	if strings.TrimSpace(event.Action) == "" {
		return
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"action": event.Action,
		"actor":  event.Actor,
	}
	if event.Target != "" {
		entry["target"] = event.Target
	}
	if event.RequestID != "" {
		entry["request_id"] = event.RequestID
	}
	if len(event.Fields) > 0 {
		entry["fields"] = event.Fields
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
