// Package validation carries structured business-rule violations across
// service boundaries. Each error names the offending field and a stable
// machine-readable reason code so clients can localize messages.
package validation

import "errors"

// Stable reason codes surfaced to API clients.
const (
	ReasonAlreadyExist      = "already-exist"
	ReasonLastMemberOfGroup = "last-member-of-group"
	ReasonParentTypeMatch   = "container-parent-type-match"
	ReasonReadOnly          = "read-only"
	ReasonLocked            = "locked"
	ReasonLogin             = "login"
	ReasonUnknownID         = "unknown-id"
)

// Error is a business-rule violation on one field.
type Error struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return "validation: " + e.Field + ": " + e.Reason
}

// New builds a violation for the given field and reason code.
func New(field, reason string) *Error {
	return &Error{Field: field, Reason: reason}
}

// As unwraps a validation error when err carries one.
func As(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
