package container

import (
	"context"
	"errors"
	"testing"

	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/validation"
)

// memScopes is an in-memory ScopeStore for tests.
type memScopes struct {
	scopes []*Scope
}

func (m *memScopes) Create(_ context.Context, scope *Scope) error {
	for _, s := range m.scopes {
		if s.Name == scope.Name {
			return validation.New("name", validation.ReasonAlreadyExist)
		}
	}
	m.scopes = append(m.scopes, scope)
	return nil
}

func (m *memScopes) FindByID(_ context.Context, id string) (*Scope, error) {
	for _, s := range m.scopes {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memScopes) FindByName(_ context.Context, name string) (*Scope, error) {
	for _, s := range m.scopes {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memScopes) FindByType(_ context.Context, typ directory.ContainerType) ([]*Scope, error) {
	var out []*Scope
	for _, s := range m.scopes {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memScopes) FindAll(_ context.Context) ([]*Scope, error) { return m.scopes, nil }

func (m *memScopes) Delete(_ context.Context, id string) error {
	kept := m.scopes[:0]
	for _, s := range m.scopes {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.scopes = kept
	return nil
}

// grantStore serves a fixed grant list to whoever asks.
type grantStore struct {
	grants []delegation.Delegate
}

func (s *grantStore) FindByReceivers(_ context.Context, receivers []string) ([]delegation.Delegate, error) {
	match := map[string]bool{}
	for _, r := range receivers {
		match[r] = true
	}
	var out []delegation.Delegate
	for _, g := range s.grants {
		if match[g.ReceiverID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *grantStore) FindAll(_ context.Context) ([]delegation.Delegate, error) {
	return s.grants, nil
}

type fixture struct {
	repo      *directory.InMemory
	scopes    *ScopeService
	groups    *Resource
	companies *Resource
}

// newFixture builds a directory with two group subtrees and two companies.
// alice administers ou=groups and reads ou=people; bob has nothing.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := directory.NewInMemory()

	for _, c := range []*directory.Company{
		{ID: "ligoj", Name: "ligoj", DN: "ou=ligoj,ou=people,dc=x"},
		{ID: "external", Name: "external", DN: "ou=external,dc=x"},
	} {
		if err := repo.Companies().Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	for _, u := range []*directory.User{
		{ID: "alice", DN: "uid=alice,ou=ligoj,ou=people,dc=x", Company: "ligoj"},
		{ID: "carol", DN: "uid=carol,ou=ligoj,ou=people,dc=x", Company: "ligoj"},
		{ID: "dave", DN: "uid=dave,ou=external,dc=x", Company: "external"},
	} {
		if err := repo.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	for _, g := range []*directory.Group{
		{ID: "dig", Name: "DIG", DN: "cn=dig,ou=groups,dc=x", Members: map[string]struct{}{"carol": {}, "dave": {}}},
		{ID: "sealed", Name: "Sealed", DN: "cn=sealed,ou=private,dc=x", Locked: true},
	} {
		if err := repo.Groups().Create(ctx, g); err != nil {
			t.Fatal(err)
		}
	}

	grants := &grantStore{grants: []delegation.Delegate{
		{ID: "1", ReceiverID: "alice", ReceiverType: delegation.ReceiverUser, Type: directory.TypeGroup, DN: "ou=groups,dc=x", CanWrite: true, CanAdmin: true},
		{ID: "2", ReceiverID: "alice", ReceiverType: delegation.ReceiverUser, Type: directory.TypeCompany, DN: "ou=people,dc=x"},
	}}
	resolver := delegation.NewResolver(repo.Users(), grants)

	scopes := NewScopeService(&memScopes{scopes: []*Scope{
		{ID: "projects", Name: "Projects", DN: "ou=groups,dc=x", Type: directory.TypeGroup},
		{ID: "private", Name: "Private", DN: "ou=private,dc=x", Type: directory.TypeGroup, Locked: true},
		{ID: "people", Name: "People", DN: "ou=people,dc=x", Type: directory.TypeCompany},
	}})

	return &fixture{
		repo:      repo,
		scopes:    scopes,
		groups:    NewGroupResource(repo, resolver, scopes),
		companies: NewCompanyResource(repo, resolver, scopes),
	}
}

func TestFindAllFiltersByReadRight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.groups.FindAll(ctx, "alice", Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != "dig" {
		t.Fatalf("page = %+v", page)
	}
	view := page.Items[0]
	if !view.ManagedWrite || !view.ManagedAdmin {
		t.Fatalf("flags = %+v", view)
	}
	if view.Scope != "Projects" {
		t.Fatalf("scope = %q", view.Scope)
	}

	// dave belongs to a company outside alice's readable tree.
	if view.Count != 2 || view.CountVisible != 1 {
		t.Fatalf("count = %d, visible = %d", view.Count, view.CountVisible)
	}

	page, err = f.groups.FindAll(ctx, "bob", Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Fatalf("bob sees %d groups", page.Total)
	}
}

func TestFindAllFilterAndWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.groups.FindAll(ctx, "alice", Criteria{Filter: "di"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Items[0].ID != "dig" {
		t.Fatalf("page = %+v", page)
	}

	page, err = f.groups.FindAll(ctx, "alice", Criteria{Filter: "nothing"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Fatalf("page = %+v", page)
	}

	page, err = f.groups.FindAll(ctx, "alice", Criteria{Offset: 5, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 0 {
		t.Fatalf("windowed page = %+v", page)
	}
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.groups.Create(ctx, "alice", Edition{Name: "DIG AS", Scope: "projects", Parent: "dig"})
	if err != nil {
		t.Fatal(err)
	}
	if view.DN != "cn=dig as,cn=dig,ou=groups,dc=x" {
		t.Fatalf("dn = %q", view.DN)
	}

	// Nesting makes the child a member of its parent.
	parent, err := f.repo.Groups().FindByID(ctx, "dig")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parent.Members["dig as"]; !ok {
		t.Fatalf("parent members = %v", parent.Members)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		edit   Edition
		field  string
		reason string
	}{
		{"duplicate name", Edition{Name: "dig", Scope: "projects"}, "group", validation.ReasonAlreadyExist},
		{"scope of the other type", Edition{Name: "x", Scope: "people"}, "type", validation.ReasonParentTypeMatch},
		{"parent outside the scope subtree", Edition{Name: "x", Scope: "projects", Parent: "sealed"}, "parent", validation.ReasonParentTypeMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.groups.Create(ctx, "alice", tc.edit)
			verr, ok := validation.As(err)
			if !ok || verr.Field != tc.field || verr.Reason != tc.reason {
				t.Fatalf("err = %v", err)
			}
		})
	}

	// Without admin on the target path the refusal reads as read-only.
	_, err := f.groups.Create(ctx, "bob", Edition{Name: "x", Scope: "projects"})
	verr, ok := validation.As(err)
	if !ok || verr.Field != "group" || verr.Reason != validation.ReasonReadOnly {
		t.Fatalf("err = %v", err)
	}

	// Unknown assistants abort before the group is written.
	_, err = f.groups.Create(ctx, "alice", Edition{Name: "y", Scope: "projects", Assistants: []string{"ghost"}})
	if !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
	if ok, _ := f.groups.Exists(ctx, "y"); ok {
		t.Fatal("group must not be created when a referenced user is unknown")
	}
}

func TestCreateCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grants := &grantStore{grants: []delegation.Delegate{
		{ID: "1", ReceiverID: "alice", ReceiverType: delegation.ReceiverUser, Type: directory.TypeCompany, DN: "ou=people,dc=x", CanAdmin: true},
	}}
	companies := NewCompanyResource(f.repo, delegation.NewResolver(f.repo.Users(), grants), f.scopes)

	view, err := companies.Create(ctx, "alice", Edition{Name: "Ligoj France", Scope: "people", Parent: "ligoj"})
	if err != nil {
		t.Fatal(err)
	}
	if view.DN != "ou=ligoj france,ou=ligoj,ou=people,dc=x" {
		t.Fatalf("dn = %q", view.DN)
	}
	if ok, _ := companies.Exists(ctx, "Ligoj France"); !ok {
		t.Fatal("company must exist after create")
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No admin right reads as an unknown id.
	if err := f.groups.Delete(ctx, "bob", "dig"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}

	if err := f.groups.Delete(ctx, "alice", "dig"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.groups.Exists(ctx, "dig"); ok {
		t.Fatal("group must be gone")
	}

	if err := f.groups.Delete(ctx, "alice", "dig"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteUnnestsFromParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.groups.Create(ctx, "alice", Edition{Name: "DIG AS", Scope: "projects", Parent: "dig"}); err != nil {
		t.Fatal(err)
	}
	if err := f.groups.Delete(ctx, "alice", "dig as"); err != nil {
		t.Fatal(err)
	}

	parent, err := f.repo.Groups().FindByID(ctx, "dig")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parent.Members["dig as"]; ok {
		t.Fatalf("parent members = %v", parent.Members)
	}
}

func TestDeleteLockedIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grants := &grantStore{grants: []delegation.Delegate{
		{ID: "1", ReceiverID: "root", ReceiverType: delegation.ReceiverUser, Type: directory.TypeGroup, DN: "dc=x", CanWrite: true, CanAdmin: true},
	}}
	groups := NewGroupResource(f.repo, delegation.NewResolver(f.repo.Users(), grants), f.scopes)

	if err := groups.Delete(ctx, "root", "sealed"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := groups.Exists(ctx, "sealed"); !ok {
		t.Fatal("locked group must survive delete")
	}
}

func TestEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.groups.Empty(ctx, "bob", "dig"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
	if err := f.groups.Empty(ctx, "alice", "dig"); err != nil {
		t.Fatal(err)
	}
	group, err := f.repo.Groups().FindByID(ctx, "dig")
	if err != nil {
		t.Fatal(err)
	}
	if len(group.Members) != 0 {
		t.Fatalf("members = %v", group.Members)
	}
	if err := f.groups.Empty(ctx, "alice", "ghost"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
}
