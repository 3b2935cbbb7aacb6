package delegation

import (
	"context"
	"sort"

	"orgdir.org/internal/directory"
	"orgdir.org/internal/namespace"
)

// Resolver computes effective rights for a principal. Every method takes the
// acting principal explicitly; there is no ambient security context.
type Resolver struct {
	users directory.UserRepository
	store Store
}

// NewResolver wires the resolver to the user repository (for group
// memberships of the principal) and the grant store.
func NewResolver(users directory.UserRepository, store Store) *Resolver {
	return &Resolver{users: users, store: store}
}

// Receivers returns the principal's effective receiver set: its own id plus
// every group it belongs to. Computed once per request so the union semantics
// stay in one place.
func (r *Resolver) Receivers(ctx context.Context, principal string) ([]string, error) {
	principal = namespace.Normalize(principal)
	receivers := []string{principal}
	user, err := r.users.FindByID(ctx, principal)
	if err != nil {
		return nil, err
	}
	if user != nil {
		receivers = append(receivers, user.Groups...)
	}
	sort.Strings(receivers)
	return receivers, nil
}

// Grants returns the grants of the given container type reachable by the
// principal, directly or through group membership.
func (r *Resolver) Grants(ctx context.Context, principal string, typ directory.ContainerType) ([]Delegate, error) {
	receivers, err := r.Receivers(ctx, principal)
	if err != nil {
		return nil, err
	}
	all, err := r.store.FindByReceivers(ctx, receivers)
	if err != nil {
		return nil, err
	}
	grants := all[:0]
	for _, g := range all {
		if g.Type == typ {
			grants = append(grants, g)
		}
	}
	return grants, nil
}

// Entry is the projection of a container the resolver filters on.
type Entry struct {
	ID string
	DN string
}

// Accessible returns the ids of the entries covered by any of the grants at
// the level. The evaluation is O(entries × grants), acceptable at directory
// scale.
func Accessible(grants []Delegate, typ directory.ContainerType, entries []Entry, level Level) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if Granted(grants, e.DN, typ, level) {
			out[e.ID] = true
		}
	}
	return out
}

// CanAccess checks a single target path for the principal.
func (r *Resolver) CanAccess(ctx context.Context, principal string, typ directory.ContainerType, dn string, level Level) (bool, error) {
	grants, err := r.Grants(ctx, principal, typ)
	if err != nil {
		return false, err
	}
	return Granted(grants, dn, typ, level), nil
}
