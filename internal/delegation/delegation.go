// Package delegation resolves which namespace subtrees a principal may read,
// write or administer, from delegation grants stored in the relational
// database.
package delegation

import (
	"context"

	"orgdir.org/internal/directory"
	"orgdir.org/internal/namespace"
)

// ReceiverType discriminates who receives a grant.
type ReceiverType string

const (
	ReceiverUser  ReceiverType = "USER"
	ReceiverGroup ReceiverType = "GROUP"
)

// Delegate grants a receiver rights over every container of Type whose path
// is equal to or a descendant of DN. CanAdmin implies write; any grant of the
// matching type implies read.
type Delegate struct {
	ID           string                  `json:"id"`
	ReceiverID   string                  `json:"receiver"`
	ReceiverType ReceiverType            `json:"receiverType"`
	Type         directory.ContainerType `json:"type"`
	DN           string                  `json:"dn"`
	CanWrite     bool                    `json:"canWrite"`
	CanAdmin     bool                    `json:"canAdmin"`
}

// Level is the access level being checked.
type Level int

const (
	Read Level = iota
	Write
	Admin
)

// Store is the read-only view over persisted grants. Grant management is an
// administrative concern outside this core.
type Store interface {
	// FindByReceivers returns every grant whose receiver id is in the set.
	FindByReceivers(ctx context.Context, receivers []string) ([]Delegate, error)
	FindAll(ctx context.Context) ([]Delegate, error)
}

// IsGranted reports whether the single grant covers dn for the expected type
// and level. Rights across grants are a union: callers must accept the first
// matching grant, never search for a most specific one.
func IsGranted(grant Delegate, dn string, expected directory.ContainerType, level Level) bool {
	if grant.Type != expected {
		return false
	}
	if !namespace.IsAncestorOrEqual(grant.DN, dn) {
		return false
	}
	switch level {
	case Admin:
		return grant.CanAdmin
	case Write:
		return grant.CanWrite || grant.CanAdmin
	default:
		return true
	}
}

// Granted reports whether any grant of the slice covers dn at the level.
func Granted(grants []Delegate, dn string, expected directory.ContainerType, level Level) bool {
	for _, g := range grants {
		if IsGranted(g, dn, expected, level) {
			return true
		}
	}
	return false
}
