package batch

import (
	"context"
	"strings"
	"testing"

	"orgdir.org/internal/container"
	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/users"
)

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

type memScopes struct {
	scopes []*container.Scope
}

func (m *memScopes) Create(_ context.Context, scope *container.Scope) error {
	m.scopes = append(m.scopes, scope)
	return nil
}

func (m *memScopes) FindByID(_ context.Context, id string) (*container.Scope, error) {
	for _, s := range m.scopes {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memScopes) FindByName(_ context.Context, name string) (*container.Scope, error) {
	for _, s := range m.scopes {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memScopes) FindByType(_ context.Context, typ directory.ContainerType) ([]*container.Scope, error) {
	var out []*container.Scope
	for _, s := range m.scopes {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memScopes) FindAll(_ context.Context) ([]*container.Scope, error) { return m.scopes, nil }
func (m *memScopes) Delete(_ context.Context, _ string) error             { return nil }

func newRepo(t *testing.T) (*directory.InMemory, *delegation.Resolver, *container.ScopeService) {
	t.Helper()
	ctx := context.Background()
	repo := directory.NewInMemory()
	if err := repo.Companies().Create(ctx, &directory.Company{ID: "ligoj", Name: "ligoj", DN: "ou=ligoj,ou=people,dc=x"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Users().Create(ctx, &directory.User{ID: "carol", DN: "uid=carol,ou=ligoj,ou=people,dc=x", Company: "ligoj"}); err != nil {
		t.Fatal(err)
	}
	grants := &grantStore{grants: []delegation.Delegate{
		{ID: "1", ReceiverID: "admin", ReceiverType: delegation.ReceiverUser, Type: directory.TypeGroup, DN: "dc=x", CanWrite: true, CanAdmin: true},
		{ID: "2", ReceiverID: "admin", ReceiverType: delegation.ReceiverUser, Type: directory.TypeCompany, DN: "dc=x", CanWrite: true, CanAdmin: true},
	}}
	resolver := delegation.NewResolver(repo.Users(), grants)
	scopes := container.NewScopeService(&memScopes{scopes: []*container.Scope{
		{ID: "projects", Name: "Projects", DN: "ou=groups,dc=x", Type: directory.TypeGroup},
	}})
	return repo, resolver, scopes
}

func TestGroupImporter(t *testing.T) {
	repo, resolver, scopes := newRepo(t)
	task := &GroupImporter{
		Groups: container.NewGroupResource(repo, resolver, scopes),
		Scopes: scopes,
	}

	csv := strings.Join([]string{
		"DIG;Projects;;carol;721;carol",
		"DIG AS;Projects;dig",
		"Broken;Unknown scope",
	}, "\n")

	result, err := task.Run(context.Background(), "admin", strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if result.Done != 2 {
		t.Fatalf("done = %d, errors = %v", result.Done, result.Errors)
	}
	if len(result.Errors) != 1 || result.Errors[3] == nil {
		t.Fatalf("errors = %v", result.Errors)
	}

	group, err := repo.Groups().FindByID(context.Background(), "dig")
	if err != nil {
		t.Fatal(err)
	}
	if group == nil {
		t.Fatal("group dig must exist")
	}
	if _, ok := group.Members["dig as"]; !ok {
		t.Fatalf("members = %v", group.Members)
	}
}

func TestUserImporter(t *testing.T) {
	repo, resolver, scopes := newRepo(t)
	groups := container.NewGroupResource(repo, resolver, scopes)
	if _, err := groups.Create(context.Background(), "admin", container.Edition{Name: "DIG", Scope: "projects"}); err != nil {
		t.Fatal(err)
	}

	task := &UserImporter{Users: users.NewService(repo, resolver, "quarantine")}

	csv := strings.Join([]string{
		"frank;Frank;Lopez;frank@x.org;ligoj;721;FL123;dig",
		"carol;Carol;Jones;carol@x.org;ligoj",
		"short;row",
	}, "\n")

	result, err := task.Run(context.Background(), "admin", strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if result.Done != 1 {
		t.Fatalf("done = %d, errors = %v", result.Done, result.Errors)
	}
	// Row 2 collides with an existing id, row 3 is malformed.
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v", result.Errors)
	}

	frank, err := repo.Users().FindByID(context.Background(), "frank")
	if err != nil {
		t.Fatal(err)
	}
	if frank == nil || frank.LocalID != "FL123" || !frank.InGroup("dig") {
		t.Fatalf("frank = %+v", frank)
	}
}
