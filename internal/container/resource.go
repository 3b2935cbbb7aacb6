package container

import (
	"context"
	"sort"
	"strings"

	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/namespace"
	"orgdir.org/internal/validation"
)

// Criteria filters and paginates a container listing.
type Criteria struct {
	Filter string
	Offset int
	Limit  int
}

// View is one row of a container listing, with the caller's effective rights
// and, for groups, the member counts.
type View struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DN           string `json:"dn"`
	Scope        string `json:"scope,omitempty"`
	Locked       bool   `json:"locked"`
	ManagedWrite bool   `json:"managedWrite"`
	ManagedAdmin bool   `json:"managedAdmin"`
	Count        int    `json:"count,omitempty"`
	CountVisible int    `json:"countVisible,omitempty"`
}

// Page is a filtered, windowed listing with its unwindowed total.
type Page struct {
	Total int    `json:"total"`
	Items []View `json:"items"`
}

// Edition is the creation payload of a container.
type Edition struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
	// Parent nests the new container inside an existing one of the same
	// scope subtree.
	Parent      string   `json:"parent,omitempty"`
	Assistants  []string `json:"assistants,omitempty"`
	Owners      []string `json:"owners,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// item is the type-neutral projection the resource works on.
type item struct {
	id      string
	name    string
	dn      string
	locked  bool
	members map[string]struct{}
}

// Resource serves one container type. All operations take the acting
// principal explicitly.
type Resource struct {
	typ      directory.ContainerType
	repo     directory.Repository
	resolver *delegation.Resolver
	scopes   *ScopeService
}

// NewGroupResource returns the resource over groups.
func NewGroupResource(repo directory.Repository, resolver *delegation.Resolver, scopes *ScopeService) *Resource {
	return &Resource{typ: directory.TypeGroup, repo: repo, resolver: resolver, scopes: scopes}
}

// NewCompanyResource returns the resource over companies.
func NewCompanyResource(repo directory.Repository, resolver *delegation.Resolver, scopes *ScopeService) *Resource {
	return &Resource{typ: directory.TypeCompany, repo: repo, resolver: resolver, scopes: scopes}
}

// Type returns the container type served by this resource.
func (r *Resource) Type() directory.ContainerType { return r.typ }

func (r *Resource) items(ctx context.Context) (map[string]item, error) {
	out := map[string]item{}
	switch r.typ {
	case directory.TypeGroup:
		groups, err := r.repo.Groups().FindAll(ctx)
		if err != nil {
			return nil, err
		}
		for id, g := range groups {
			out[id] = item{id: id, name: g.Name, dn: g.DN, locked: g.Locked, members: g.Members}
		}
	default:
		companies, err := r.repo.Companies().FindAll(ctx)
		if err != nil {
			return nil, err
		}
		for id, c := range companies {
			out[id] = item{id: id, name: c.Name, dn: c.DN, locked: c.Locked}
		}
	}
	return out, nil
}

// Managed returns the ids of the containers the principal holds the level
// on. Rights are the union over every reachable grant.
func (r *Resource) Managed(ctx context.Context, principal string, level delegation.Level) (map[string]bool, error) {
	grants, err := r.resolver.Grants(ctx, principal, r.typ)
	if err != nil {
		return nil, err
	}
	items, err := r.items(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]delegation.Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, delegation.Entry{ID: it.id, DN: it.dn})
	}
	return delegation.Accessible(grants, r.typ, entries, level), nil
}

// FindAll lists the containers the principal can read, with write/admin
// flags and, for groups, total and visible member counts. The visible count
// only includes members whose company tree intersects the caller's readable
// companies.
func (r *Resource) FindAll(ctx context.Context, principal string, crit Criteria) (*Page, error) {
	grants, err := r.resolver.Grants(ctx, principal, r.typ)
	if err != nil {
		return nil, err
	}
	scopes, err := r.scopes.FindByType(ctx, r.typ)
	if err != nil {
		return nil, err
	}
	items, err := r.items(ctx)
	if err != nil {
		return nil, err
	}

	filter := strings.ToLower(strings.TrimSpace(crit.Filter))
	var visible []item
	for _, it := range items {
		if !delegation.Granted(grants, it.dn, r.typ, delegation.Read) {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(it.name), filter) {
			continue
		}
		visible = append(visible, it)
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].id < visible[j].id })

	page := &Page{Total: len(visible)}
	offset, limit := crit.Offset, crit.Limit
	if offset > len(visible) {
		offset = len(visible)
	}
	window := visible[offset:]
	if limit > 0 && limit < len(window) {
		window = window[:limit]
	}

	var counter *memberCounter
	if r.typ == directory.TypeGroup {
		counter, err = r.newMemberCounter(ctx, principal)
		if err != nil {
			return nil, err
		}
	}

	for _, it := range window {
		view := View{
			ID:           it.id,
			Name:         it.name,
			DN:           it.dn,
			Locked:       it.locked,
			ManagedWrite: delegation.Granted(grants, it.dn, r.typ, delegation.Write),
			ManagedAdmin: delegation.Granted(grants, it.dn, r.typ, delegation.Admin),
		}
		if scope := ScopeOf(scopes, it.dn); scope != nil {
			view.Scope = scope.Name
		}
		if counter != nil {
			view.Count = len(it.members)
			view.CountVisible = counter.visible(it.members)
		}
		page.Items = append(page.Items, view)
	}
	return page, nil
}

// memberCounter resolves member ids to companies and checks each company
// tree against the caller's readable companies.
type memberCounter struct {
	users     map[string]*directory.User
	companies map[string]*directory.Company
	readable  map[string]bool
}

func (r *Resource) newMemberCounter(ctx context.Context, principal string) (*memberCounter, error) {
	users, err := r.repo.Users().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	companies, err := r.repo.Companies().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := r.resolver.Grants(ctx, principal, directory.TypeCompany)
	if err != nil {
		return nil, err
	}
	entries := make([]delegation.Entry, 0, len(companies))
	for id, c := range companies {
		entries = append(entries, delegation.Entry{ID: id, DN: c.DN})
	}
	return &memberCounter{
		users:     users,
		companies: companies,
		readable:  delegation.Accessible(grants, directory.TypeCompany, entries, delegation.Read),
	}, nil
}

func (c *memberCounter) visible(members map[string]struct{}) int {
	count := 0
	for member := range members {
		user, ok := c.users[member]
		if !ok {
			continue
		}
		company, ok := c.companies[user.Company]
		if !ok {
			continue
		}
		for _, ancestor := range company.Tree(c.companies) {
			if c.readable[ancestor.ID] {
				count++
				break
			}
		}
	}
	return count
}

// FindByID returns the container or ErrUnknownID.
func (r *Resource) FindByID(ctx context.Context, id string) (*View, error) {
	items, err := r.items(ctx)
	if err != nil {
		return nil, err
	}
	it, ok := items[namespace.Normalize(id)]
	if !ok {
		return nil, directory.ErrUnknownID
	}
	view := View{ID: it.id, Name: it.name, DN: it.dn, Locked: it.locked, Count: len(it.members)}
	return &view, nil
}

// Exists probes the normalized name for an exact match.
func (r *Resource) Exists(ctx context.Context, id string) (bool, error) {
	items, err := r.items(ctx)
	if err != nil {
		return false, err
	}
	_, ok := items[namespace.Normalize(id)]
	return ok, nil
}

func (r *Resource) typeName() string {
	if r.typ == directory.TypeGroup {
		return "group"
	}
	return "company"
}

// Create validates the edition against its scope, builds the new DN under
// the parent (or the scope root), persists the container and, for groups,
// nests it under its parent and attaches the auxiliary attributes.
func (r *Resource) Create(ctx context.Context, principal string, edit Edition) (*View, error) {
	name := strings.TrimSpace(edit.Name)
	if name == "" {
		return nil, validation.New("name", validation.ReasonUnknownID)
	}
	id := namespace.Normalize(name)

	scope, err := r.scopes.FindByID(ctx, edit.Scope)
	if err != nil {
		return nil, err
	}
	if scope.Type != r.typ {
		return nil, validation.New("type", validation.ReasonParentTypeMatch)
	}

	items, err := r.items(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := items[id]; ok {
		return nil, validation.New(r.typeName(), validation.ReasonAlreadyExist)
	}

	// The parent, when given, must already live inside the scope subtree.
	parentDN := scope.DN
	parentID := namespace.Normalize(edit.Parent)
	if parentID != "" {
		parent, ok := items[parentID]
		if !ok {
			return nil, directory.ErrUnknownID
		}
		if !namespace.IsAncestorOrEqual(scope.DN, parent.dn) {
			return nil, validation.New("parent", validation.ReasonParentTypeMatch)
		}
		parentDN = parent.dn
	}

	attr := "cn"
	if r.typ == directory.TypeCompany {
		attr = "ou"
	}
	newDN := namespace.Join(attr, id, parentDN)

	granted, err := r.resolver.CanAccess(ctx, principal, r.typ, newDN, delegation.Admin)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, validation.New(r.typeName(), validation.ReasonReadOnly)
	}

	if r.typ == directory.TypeCompany {
		company := &directory.Company{ID: id, Name: name, DN: newDN}
		if err := r.repo.Companies().Create(ctx, company); err != nil {
			return nil, err
		}
		return &View{ID: id, Name: name, DN: newDN, ManagedWrite: true, ManagedAdmin: true, Scope: scope.Name}, nil
	}

	// Referenced users must exist before anything is written.
	assistants, err := r.userDNs(ctx, edit.Assistants)
	if err != nil {
		return nil, err
	}
	owners, err := r.userDNs(ctx, edit.Owners)
	if err != nil {
		return nil, err
	}

	group := &directory.Group{ID: id, Name: name, DN: newDN, Members: map[string]struct{}{}}
	if err := r.repo.Groups().Create(ctx, group); err != nil {
		return nil, err
	}
	if parentID != "" {
		// Nesting is membership: the new group becomes a member of its
		// parent.
		if err := r.repo.Groups().AddMember(ctx, parentID, newDN); err != nil {
			return nil, err
		}
	}
	if err := r.repo.Groups().AddAttributes(ctx, newDN, "seeAlso", assistants); err != nil {
		return nil, err
	}
	if err := r.repo.Groups().AddAttributes(ctx, newDN, "owner", owners); err != nil {
		return nil, err
	}
	if err := r.repo.Groups().AddAttributes(ctx, newDN, "businessCategory", edit.Departments); err != nil {
		return nil, err
	}
	return &View{ID: id, Name: name, DN: newDN, ManagedWrite: true, ManagedAdmin: true, Scope: scope.Name}, nil
}

func (r *Resource) userDNs(ctx context.Context, ids []string) ([]string, error) {
	dns := make([]string, 0, len(ids))
	for _, id := range ids {
		user, err := r.repo.Users().FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, directory.ErrUnknownID
		}
		dns = append(dns, user.DN)
	}
	return dns, nil
}

// Empty removes every member of a group. Requires write on the group,
// otherwise the group is reported unknown.
func (r *Resource) Empty(ctx context.Context, principal, id string) error {
	if r.typ != directory.TypeGroup {
		return directory.ErrUnknownID
	}
	group, err := r.repo.Groups().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if group == nil {
		return directory.ErrUnknownID
	}
	granted, err := r.resolver.CanAccess(ctx, principal, r.typ, group.DN, delegation.Write)
	if err != nil {
		return err
	}
	if !granted {
		return directory.ErrUnknownID
	}
	return r.repo.Groups().Empty(ctx, group.ID)
}

// Delete removes the container. Deleting a locked container is a no-op that
// preserves the count. Lacking admin rights reads as an unknown id.
func (r *Resource) Delete(ctx context.Context, principal, id string) error {
	items, err := r.items(ctx)
	if err != nil {
		return err
	}
	it, ok := items[namespace.Normalize(id)]
	if !ok {
		return directory.ErrUnknownID
	}
	granted, err := r.resolver.CanAccess(ctx, principal, r.typ, it.dn, delegation.Admin)
	if err != nil {
		return err
	}
	if !granted {
		return directory.ErrUnknownID
	}
	if it.locked {
		return nil
	}
	if r.typ == directory.TypeCompany {
		return r.repo.Companies().Delete(ctx, &directory.Company{ID: it.id, DN: it.dn})
	}
	// A nested group is also a member of its nearest enclosing group.
	// Un-nest before deleting the entry.
	byDN := make(map[string]item, len(items))
	dns := make([]string, 0, len(items))
	for _, other := range items {
		if other.id == it.id {
			continue
		}
		byDN[other.dn] = other
		dns = append(dns, other.dn)
	}
	if parentDN, ok := namespace.Parent(dns, it.dn); ok {
		if err := r.repo.Groups().RemoveMember(ctx, byDN[parentDN].id, it.dn); err != nil {
			return err
		}
	}
	return r.repo.Groups().Delete(ctx, &directory.Group{ID: it.id, DN: it.dn})
}
