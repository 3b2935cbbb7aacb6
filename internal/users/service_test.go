package users

import (
	"context"
	"errors"
	"testing"

	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/validation"
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

// countingUsers observes attribute writes going through the repository.
type countingUsers struct {
	directory.UserRepository
	updates int
}

func (c *countingUsers) UpdateAttribute(ctx context.Context, id, attribute string, values []string) error {
	c.updates++
	return c.UserRepository.UpdateAttribute(ctx, id, attribute, values)
}

type countingRepo struct {
	directory.Repository
	users *countingUsers
}

func (r *countingRepo) Users() directory.UserRepository { return r.users }

type fixture struct {
	repo    *directory.InMemory
	counted *countingRepo
	svc     *Service
}

// newFixture builds a directory where admin writes every company and the
// ou=groups subtree, but cannot see ou=private. carol belongs to the visible
// group dig and the invisible group hidden.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := directory.NewInMemory()

	for _, c := range []*directory.Company{
		{ID: "ligoj", Name: "ligoj", DN: "ou=ligoj,ou=people,dc=x"},
		{ID: "other", Name: "other", DN: "ou=other,ou=people,dc=x"},
		{ID: "quarantine", Name: "quarantine", DN: "ou=quarantine,dc=x"},
	} {
		if err := repo.Companies().Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	for _, g := range []*directory.Group{
		{ID: "dig", Name: "DIG", DN: "cn=dig,ou=groups,dc=x"},
		{ID: "solo", Name: "Solo", DN: "cn=solo,ou=groups,dc=x"},
		{ID: "hidden", Name: "Hidden", DN: "cn=hidden,ou=private,dc=x"},
	} {
		if err := repo.Groups().Create(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	for _, u := range []*directory.User{
		{ID: "carol", DN: "uid=carol,ou=ligoj,ou=people,dc=x", FirstName: "Carol", LastName: "Jones", Mails: []string{"carol@x.org"}, Company: "ligoj"},
		{ID: "erin", DN: "uid=erin,ou=ligoj,ou=people,dc=x", FirstName: "Erin", LastName: "Smith", Company: "ligoj"},
	} {
		if err := repo.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []struct{ group, dn string }{
		{"dig", "uid=carol,ou=ligoj,ou=people,dc=x"},
		{"dig", "uid=erin,ou=ligoj,ou=people,dc=x"},
		{"solo", "uid=carol,ou=ligoj,ou=people,dc=x"},
		{"hidden", "uid=carol,ou=ligoj,ou=people,dc=x"},
	} {
		if err := repo.Groups().AddMember(ctx, m.group, m.dn); err != nil {
			t.Fatal(err)
		}
	}

	grants := &grantStore{grants: []delegation.Delegate{
		{ID: "1", ReceiverID: "admin", ReceiverType: delegation.ReceiverUser, Type: directory.TypeCompany, DN: "dc=x", CanWrite: true, CanAdmin: true},
		{ID: "2", ReceiverID: "admin", ReceiverType: delegation.ReceiverUser, Type: directory.TypeGroup, DN: "ou=groups,dc=x", CanWrite: true},
	}}

	counted := &countingRepo{Repository: repo, users: &countingUsers{UserRepository: repo.Users()}}
	resolver := delegation.NewResolver(repo.Users(), grants)
	return &fixture{repo: repo, counted: counted, svc: NewService(counted, resolver, "quarantine")}
}

func edition(u *directory.User) Edition {
	return Edition{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Mails:      u.Mails,
		Company:    u.Company,
		Department: u.Department,
		LocalID:    u.LocalID,
		Groups:     u.Groups,
	}
}

func TestFindByIDGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.FindByID(ctx, "admin", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "carol" {
		t.Fatalf("user = %+v", user)
	}

	// Invisibility and absence read identically.
	if _, err := f.svc.FindByID(ctx, "bob", "carol"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.svc.FindByID(ctx, "admin", "ghost"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
}

func TestFindAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.svc.FindAll(ctx, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "carol" || all[1].ID != "erin" {
		t.Fatalf("all = %+v", all)
	}

	filtered, err := f.svc.FindAll(ctx, "admin", "jones")
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "carol" {
		t.Fatalf("filtered = %+v", filtered)
	}

	none, err := f.svc.FindAll(ctx, "bob", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("none = %+v", none)
	}
}

func TestFindAllBy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	found, err := f.svc.FindAllBy(ctx, "admin", "mail", "Carol@X.org")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "carol" {
		t.Fatalf("found = %+v", found)
	}

	none, err := f.svc.FindAllBy(ctx, "bob", "mail", "carol@x.org")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("none = %+v", none)
	}

	_, err = f.svc.FindAllBy(ctx, "admin", "password", "x")
	verr, ok := validation.As(err)
	if !ok || verr.Field != "by" || verr.Reason != validation.ReasonUnknownID {
		t.Fatalf("err = %v", err)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Create(ctx, "admin", Edition{
		ID: "Frank", FirstName: "Frank", LastName: "Lopez",
		Mails: []string{"frank@x.org"}, Company: "ligoj", Groups: []string{"dig"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "frank" {
		t.Fatalf("id = %q", user.ID)
	}
	if user.DN != "uid=frank,ou=ligoj,ou=people,dc=x" {
		t.Fatalf("dn = %q", user.DN)
	}
	group, _ := f.repo.Groups().FindByID(ctx, "dig")
	if _, ok := group.Members["frank"]; !ok {
		t.Fatalf("members = %v", group.Members)
	}
	if _, ok := group.Members[""]; ok {
		t.Fatalf("members = %v", group.Members)
	}
	stored, _ := f.repo.Users().FindByID(ctx, "frank")
	if !stored.InGroup("dig") {
		t.Fatalf("groups = %v", stored.Groups)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		principal string
		edit      Edition
		field     string
		reason    string
	}{
		{"taken id", "admin", Edition{ID: "carol", Company: "ligoj"}, "id", validation.ReasonAlreadyExist},
		{"unknown company", "admin", Edition{ID: "new", Company: "ghost"}, "company", validation.ReasonUnknownID},
		{"unwritable company", "bob", Edition{ID: "new", Company: "ligoj"}, "company", validation.ReasonUnknownID},
		{"unwritable group", "admin", Edition{ID: "new", Company: "ligoj", Groups: []string{"hidden"}}, "group", validation.ReasonReadOnly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.principal, tc.edit)
			verr, ok := validation.As(err)
			if !ok || verr.Field != tc.field || verr.Reason != tc.reason {
				t.Fatalf("err = %v", err)
			}
		})
	}

	// Group staging rejected the whole creation.
	if u, _ := f.repo.Users().FindByID(ctx, "new"); u != nil {
		t.Fatal("user must not be created when a group is rejected")
	}
}

func TestUpdateIdenticalWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.FindByID(ctx, "admin", "carol")
	if err != nil {
		t.Fatal(err)
	}
	f.counted.users.updates = 0
	if err := f.svc.Update(ctx, "admin", edition(user)); err != nil {
		t.Fatal(err)
	}
	if f.counted.users.updates != 0 {
		t.Fatalf("updates = %d, want 0", f.counted.users.updates)
	}
}

func TestUpdateDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, _ := f.svc.FindByID(ctx, "admin", "carol")
	edit := edition(user)
	edit.LastName = "Doe"
	edit.Department = "721"
	if err := f.svc.Update(ctx, "admin", edit); err != nil {
		t.Fatal(err)
	}
	if f.counted.users.updates != 2 {
		t.Fatalf("updates = %d, want 2", f.counted.users.updates)
	}
	updated, _ := f.svc.FindByID(ctx, "admin", "carol")
	if updated.LastName != "Doe" || updated.Department != "721" {
		t.Fatalf("user = %+v", updated)
	}

	// Clearing is submitting the zero value.
	edit = edition(updated)
	edit.Department = ""
	if err := f.svc.Update(ctx, "admin", edit); err != nil {
		t.Fatal(err)
	}
	updated, _ = f.svc.FindByID(ctx, "admin", "carol")
	if updated.Department != "" {
		t.Fatalf("department = %q", updated.Department)
	}
}

func TestUpdatePreservesInvisibleGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The request omits every group, but only the writable ones go away.
	user, _ := f.svc.FindByID(ctx, "admin", "carol")
	edit := edition(user)
	edit.Groups = nil
	if err := f.svc.Update(ctx, "admin", edit); err != nil {
		t.Fatal(err)
	}

	updated, _ := f.svc.FindByID(ctx, "admin", "carol")
	if updated.InGroup("dig") {
		t.Fatal("dig membership must be removed")
	}
	if !updated.InGroup("hidden") {
		t.Fatal("invisible membership must survive")
	}
}

func TestUpdateAddsOnlyWritableGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, _ := f.svc.FindByID(ctx, "admin", "erin")
	edit := edition(user)
	edit.Groups = append(edit.Groups, "hidden")
	err := f.svc.Update(ctx, "admin", edit)
	verr, ok := validation.As(err)
	if !ok || verr.Field != "group" || verr.Reason != validation.ReasonReadOnly {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateCompanyMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, _ := f.svc.FindByID(ctx, "admin", "erin")
	edit := edition(user)
	edit.Company = "other"
	if err := f.svc.Update(ctx, "admin", edit); err != nil {
		t.Fatal(err)
	}
	moved, _ := f.svc.FindByID(ctx, "admin", "erin")
	if moved.Company != "other" {
		t.Fatalf("company = %q", moved.Company)
	}

	edit.Company = "ghost"
	err := f.svc.Update(ctx, "admin", edit)
	verr, ok := validation.As(err)
	if !ok || verr.Field != "company" || verr.Reason != validation.ReasonUnknownID {
		t.Fatalf("err = %v", err)
	}
}

func TestGroupMembershipOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.AddToGroup(ctx, "admin", "erin", "solo"); err != nil {
		t.Fatal(err)
	}
	// Adding again is a no-op.
	if err := f.svc.AddToGroup(ctx, "admin", "erin", "solo"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveFromGroup(ctx, "admin", "erin", "solo"); err != nil {
		t.Fatal(err)
	}
	// Removing a non-member is a no-op too.
	if err := f.svc.RemoveFromGroup(ctx, "admin", "erin", "solo"); err != nil {
		t.Fatal(err)
	}

	// carol is now the only member of solo again.
	err := f.svc.RemoveFromGroup(ctx, "admin", "carol", "solo")
	verr, ok := validation.As(err)
	if !ok || verr.Field != "id" || verr.Reason != validation.ReasonLastMemberOfGroup {
		t.Fatalf("err = %v", err)
	}

	// An unwritable group is reported by name, not hidden.
	err = f.svc.AddToGroup(ctx, "admin", "erin", "hidden")
	verr, ok = validation.As(err)
	if !ok || verr.Field != "group" || verr.Reason != validation.ReasonReadOnly {
		t.Fatalf("err = %v", err)
	}

	if err := f.svc.AddToGroup(ctx, "admin", "erin", "ghost"); !errors.Is(err, directory.ErrUnknownID) {
		t.Fatalf("err = %v", err)
	}
}

func TestLockUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Lock(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ := f.svc.FindByID(ctx, "admin", "carol")
	if !user.IsLocked() || user.LockedBy != "admin" {
		t.Fatalf("user = %+v", user)
	}
	lockedAt := user.LockedAt

	// Locking again keeps the original timestamp.
	if err := f.svc.Lock(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ = f.svc.FindByID(ctx, "admin", "carol")
	if !user.LockedAt.Equal(lockedAt) {
		t.Fatalf("lockedAt changed: %v != %v", user.LockedAt, lockedAt)
	}

	if err := f.svc.Unlock(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ = f.svc.FindByID(ctx, "admin", "carol")
	if user.IsLocked() || user.LockedBy != "" {
		t.Fatalf("user = %+v", user)
	}
}

func TestIsolateRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Isolate(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ := f.svc.FindByID(ctx, "admin", "carol")
	if user.Company != "quarantine" || user.IsolatedCompany != "ligoj" {
		t.Fatalf("user = %+v", user)
	}
	if !user.InGroup("dig") {
		t.Fatal("isolation must keep memberships")
	}

	// Isolating twice must not overwrite the recorded company.
	if err := f.svc.Isolate(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ = f.svc.FindByID(ctx, "admin", "carol")
	if user.IsolatedCompany != "ligoj" {
		t.Fatalf("isolated company = %q", user.IsolatedCompany)
	}

	if err := f.svc.Restore(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	user, _ = f.svc.FindByID(ctx, "admin", "carol")
	if user.Company != "ligoj" || user.IsolatedCompany != "" {
		t.Fatalf("user = %+v", user)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// carol is the last member of solo and hidden: nothing may be written.
	err := f.svc.Delete(ctx, "admin", "carol")
	verr, ok := validation.As(err)
	if !ok || verr.Field != "id" || verr.Reason != validation.ReasonLastMemberOfGroup {
		t.Fatalf("err = %v", err)
	}
	user, _ := f.svc.FindByID(ctx, "admin", "carol")
	if !user.InGroup("dig") {
		t.Fatal("failed delete must not strip memberships")
	}

	if err := f.svc.AddToGroup(ctx, "admin", "erin", "solo"); err != nil {
		t.Fatal(err)
	}
	// hidden is read-only for admin, so the second member goes in at the
	// repository level.
	if err := f.repo.Groups().AddMember(ctx, "hidden", "uid=erin,ou=ligoj,ou=people,dc=x"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, "admin", "carol"); err != nil {
		t.Fatal(err)
	}
	if u, _ := f.repo.Users().FindByID(ctx, "carol"); u != nil {
		t.Fatal("user must be gone")
	}
	group, _ := f.repo.Groups().FindByID(ctx, "dig")
	if _, ok := group.Members["carol"]; ok {
		t.Fatalf("members = %v", group.Members)
	}
}

func TestGateConflation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"update":  func() error { return f.svc.Update(ctx, "bob", Edition{ID: "carol"}) },
		"lock":    func() error { return f.svc.Lock(ctx, "bob", "carol") },
		"isolate": func() error { return f.svc.Isolate(ctx, "bob", "carol") },
		"delete":  func() error { return f.svc.Delete(ctx, "bob", "carol") },
	} {
		if err := op(); !errors.Is(err, directory.ErrUnknownID) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}
