// Package container exposes CRUD over the two container kinds, Group and
// Company, gated by the delegation resolver, plus the ContainerScope
// configuration entity that anchors container subtrees.
package container

import (
	"context"
	"strings"

	"orgdir.org/internal/directory"
	"orgdir.org/internal/namespace"
	"orgdir.org/internal/validation"
)

// Scope is a configured subtree of the namespace in which containers of one
// type may be created. Locked scopes cannot be deleted.
type Scope struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	DN     string                  `json:"dn"`
	Type   directory.ContainerType `json:"type"`
	Locked bool                    `json:"locked"`
}

// ScopeStore persists scopes in the relational database.
type ScopeStore interface {
	Create(ctx context.Context, scope *Scope) error
	FindByID(ctx context.Context, id string) (*Scope, error)
	FindByName(ctx context.Context, name string) (*Scope, error)
	// FindByType lists scopes of one type ordered by descending DN, so the
	// most specific scope matches first.
	FindByType(ctx context.Context, typ directory.ContainerType) ([]*Scope, error)
	FindAll(ctx context.Context) ([]*Scope, error)
	Delete(ctx context.Context, id string) error
}

// ScopeService validates and serves scope configuration.
type ScopeService struct {
	store ScopeStore
}

// NewScopeService returns the service over the given store.
func NewScopeService(store ScopeStore) *ScopeService {
	return &ScopeService{store: store}
}

// Create persists a new scope after structural validation.
func (s *ScopeService) Create(ctx context.Context, scope *Scope) error {
	scope.Name = strings.TrimSpace(scope.Name)
	scope.DN = strings.TrimSpace(scope.DN)
	if scope.Name == "" {
		return validation.New("name", validation.ReasonUnknownID)
	}
	if namespace.Parse(scope.DN).IsZero() {
		return validation.New("dn", validation.ReasonUnknownID)
	}
	if scope.Type != directory.TypeGroup && scope.Type != directory.TypeCompany {
		return validation.New("type", validation.ReasonUnknownID)
	}
	return s.store.Create(ctx, scope)
}

// FindByID returns the scope or ErrUnknownID.
func (s *ScopeService) FindByID(ctx context.Context, id string) (*Scope, error) {
	scope, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, directory.ErrUnknownID
	}
	return scope, nil
}

// FindByName returns the scope with the exact name or ErrUnknownID.
func (s *ScopeService) FindByName(ctx context.Context, name string) (*Scope, error) {
	scope, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return nil, directory.ErrUnknownID
	}
	return scope, nil
}

// FindByType lists scopes of the type, most specific first.
func (s *ScopeService) FindByType(ctx context.Context, typ directory.ContainerType) ([]*Scope, error) {
	return s.store.FindByType(ctx, typ)
}

// FindAll lists every configured scope.
func (s *ScopeService) FindAll(ctx context.Context) ([]*Scope, error) {
	return s.store.FindAll(ctx)
}

// Delete removes the scope. Deleting a locked scope is a no-op, not an
// error: the row count is preserved and the caller sees success.
func (s *ScopeService) Delete(ctx context.Context, id string) error {
	scope, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if scope == nil {
		return directory.ErrUnknownID
	}
	if scope.Locked {
		return nil
	}
	return s.store.Delete(ctx, id)
}

// ScopeOf attributes a container DN to the most specific matching scope of
// the given list, the deepest enclosing DN, or nil. The list order does not
// matter.
func ScopeOf(scopes []*Scope, dn string) *Scope {
	target := namespace.Parse(dn)
	var best *Scope
	depth := 0
	for _, scope := range scopes {
		if p := namespace.Parse(scope.DN); p.AncestorOrEqual(target) && p.Depth() > depth {
			best, depth = scope, p.Depth()
		}
	}
	return best
}
