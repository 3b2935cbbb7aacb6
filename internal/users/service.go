// Package users implements the identity lifecycle: create, merge, lock,
// isolate, delete and group membership diffing. Every mutation is gated by
// the delegation resolver on the target user's company, and invariants are
// validated against the staged change before anything is written.
package users

import (
	"context"
	"sort"
	"strings"
	"time"

	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/namespace"
	"orgdir.org/internal/validation"
)

// Edition is the desired state submitted for a user. Zero values clear the
// corresponding optional fields.
type Edition struct {
	ID         string   `json:"id"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName"`
	Mails      []string `json:"mails"`
	Company    string   `json:"company"`
	Department string   `json:"department,omitempty"`
	LocalID    string   `json:"localId,omitempty"`
	Groups     []string `json:"groups"`
}

// Service is the user lifecycle engine.
type Service struct {
	repo     directory.Repository
	resolver *delegation.Resolver
	// quarantine is the company isolated users are parked in.
	quarantine string
	now        func() time.Time
}

// NewService wires the engine. quarantineCompany names the company isolated
// users are moved to.
func NewService(repo directory.Repository, resolver *delegation.Resolver, quarantineCompany string) *Service {
	return &Service{
		repo:       repo,
		resolver:   resolver,
		quarantine: namespace.Normalize(quarantineCompany),
		now:        time.Now,
	}
}

// findExpected returns the user or ErrUnknownID.
func (s *Service) findExpected(ctx context.Context, id string) (*directory.User, error) {
	user, err := s.repo.Users().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, directory.ErrUnknownID
	}
	return user, nil
}

// gate enforces the uniform authorization rule: the principal must hold
// write rights on the user's company. A violation reads exactly like a
// missing user so existence is never disclosed.
func (s *Service) gate(ctx context.Context, principal string, user *directory.User) error {
	company, err := s.repo.Companies().FindByID(ctx, user.Company)
	if err != nil {
		return err
	}
	if company == nil {
		return directory.ErrUnknownID
	}
	granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeCompany, company.DN, delegation.Write)
	if err != nil {
		return err
	}
	if !granted {
		return directory.ErrUnknownID
	}
	return nil
}

// writableGroup resolves the group and checks the principal can write it.
// An unknown group reads as unknown id; a visible but read-only group is
// reported by name.
func (s *Service) writableGroup(ctx context.Context, principal, id string) (*directory.Group, error) {
	group, err := s.repo.Groups().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, directory.ErrUnknownID
	}
	granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeGroup, group.DN, delegation.Write)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, validation.New("group", validation.ReasonReadOnly)
	}
	return group, nil
}

// FindByID returns a user the principal can read through its company,
// conflating absence and invisibility.
func (s *Service) FindByID(ctx context.Context, principal, id string) (*directory.User, error) {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return nil, err
	}
	company, err := s.repo.Companies().FindByID(ctx, user.Company)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, directory.ErrUnknownID
	}
	granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeCompany, company.DN, delegation.Read)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, directory.ErrUnknownID
	}
	return user, nil
}

// FindAll lists the users of the companies the principal can read, filtered
// by a free-text criteria on id and names.
func (s *Service) FindAll(ctx context.Context, principal, filter string) ([]*directory.User, error) {
	all, err := s.repo.Users().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	companies, err := s.repo.Companies().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.resolver.Grants(ctx, principal, directory.TypeCompany)
	if err != nil {
		return nil, err
	}
	filter = strings.ToLower(strings.TrimSpace(filter))
	var out []*directory.User
	for _, user := range all {
		company, ok := companies[user.Company]
		if !ok || !delegation.Granted(grants, company.DN, directory.TypeCompany, delegation.Read) {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(user.ID), filter) &&
			!strings.Contains(strings.ToLower(user.FullName()), filter) {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindAllBy looks up users holding one attribute value, restricted to the
// companies the principal can read.
func (s *Service) FindAllBy(ctx context.Context, principal, attribute, value string) ([]*directory.User, error) {
	if !directory.IsUserSearchAttribute(attribute) {
		return nil, validation.New("by", validation.ReasonUnknownID)
	}
	found, err := s.repo.Users().FindAllBy(ctx, attribute, value)
	if err != nil {
		return nil, err
	}
	companies, err := s.repo.Companies().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.resolver.Grants(ctx, principal, directory.TypeCompany)
	if err != nil {
		return nil, err
	}
	var out []*directory.User
	for _, user := range found {
		company, ok := companies[user.Company]
		if !ok || !delegation.Granted(grants, company.DN, directory.TypeCompany, delegation.Read) {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create registers a new identity with its initial memberships. The
// identifier must be free, the company writable by the principal and every
// requested group writable too.
func (s *Service) Create(ctx context.Context, principal string, edit Edition) (*directory.User, error) {
	id := namespace.Normalize(edit.ID)
	if id == "" {
		return nil, validation.New("id", validation.ReasonUnknownID)
	}
	existing, err := s.repo.Users().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, validation.New("id", validation.ReasonAlreadyExist)
	}

	company, err := s.repo.Companies().FindByID(ctx, edit.Company)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, validation.New("company", validation.ReasonUnknownID)
	}
	granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeCompany, company.DN, delegation.Write)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, validation.New("company", validation.ReasonUnknownID)
	}

	// Stage every group before any write.
	groups := make([]*directory.Group, 0, len(edit.Groups))
	for _, g := range edit.Groups {
		group, err := s.writableGroup(ctx, principal, g)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	user := &directory.User{
		ID:         id,
		FirstName:  strings.TrimSpace(edit.FirstName),
		LastName:   strings.TrimSpace(edit.LastName),
		Mails:      edit.Mails,
		Company:    company.ID,
		Department: strings.TrimSpace(edit.Department),
		LocalID:    strings.TrimSpace(edit.LocalID),
	}
	if err := s.repo.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	for _, group := range groups {
		if err := s.repo.Groups().AddMember(ctx, group.ID, user.DN); err != nil {
			return nil, err
		}
		user.Groups = append(user.Groups, group.ID)
	}
	return user, nil
}

// Update merges the edition into the current state, writing only the
// attributes that actually changed. Resubmitting identical values performs
// no directory write.
func (s *Service) Update(ctx context.Context, principal string, edit Edition) error {
	user, err := s.findExpected(ctx, edit.ID)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}

	// Company moves are validated against the destination before commit.
	newCompany := namespace.Normalize(edit.Company)
	if newCompany != "" && newCompany != user.Company {
		company, err := s.repo.Companies().FindByID(ctx, newCompany)
		if err != nil {
			return err
		}
		if company == nil {
			return validation.New("company", validation.ReasonUnknownID)
		}
		granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeCompany, company.DN, delegation.Write)
		if err != nil {
			return err
		}
		if !granted {
			return validation.New("company", validation.ReasonUnknownID)
		}
		if err := s.repo.Users().SetCompany(ctx, user.ID, company.ID); err != nil {
			return err
		}
	}

	if err := s.applyAttributeDiff(ctx, user, edit); err != nil {
		return err
	}
	return s.applyGroupDiff(ctx, principal, user, edit.Groups)
}

func single(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func (s *Service) applyAttributeDiff(ctx context.Context, user *directory.User, edit Edition) error {
	users := s.repo.Users()
	if v := strings.TrimSpace(edit.FirstName); v != user.FirstName {
		if err := users.UpdateAttribute(ctx, user.ID, "firstName", single(v)); err != nil {
			return err
		}
	}
	if v := strings.TrimSpace(edit.LastName); v != user.LastName {
		if err := users.UpdateAttribute(ctx, user.ID, "lastName", single(v)); err != nil {
			return err
		}
	}
	if !equalFold(edit.Mails, user.Mails) {
		if err := users.UpdateAttribute(ctx, user.ID, "mail", edit.Mails); err != nil {
			return err
		}
	}
	// An absent department or local id clears the stored value.
	if v := strings.TrimSpace(edit.Department); v != user.Department {
		if err := users.UpdateAttribute(ctx, user.ID, "department", single(v)); err != nil {
			return err
		}
	}
	if v := strings.TrimSpace(edit.LocalID); v != user.LocalID {
		if err := users.UpdateAttribute(ctx, user.ID, "localId", single(v)); err != nil {
			return err
		}
	}
	return nil
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// applyGroupDiff computes toAdd and toRemove between the current and the
// requested membership. Removals are restricted to the groups the principal
// can write: a membership the caller cannot see or edit survives untouched
// even when absent from the request.
func (s *Service) applyGroupDiff(ctx context.Context, principal string, user *directory.User, requested []string) error {
	want := make(map[string]bool, len(requested))
	for _, g := range requested {
		want[namespace.Normalize(g)] = true
	}
	current := make(map[string]bool, len(user.Groups))
	for _, g := range user.Groups {
		current[g] = true
	}

	// Stage both sides before writing anything.
	var toAdd []*directory.Group
	for g := range want {
		if current[g] {
			continue
		}
		group, err := s.writableGroup(ctx, principal, g)
		if err != nil {
			return err
		}
		toAdd = append(toAdd, group)
	}
	var toRemove []*directory.Group
	for g := range current {
		if want[g] {
			continue
		}
		group, err := s.repo.Groups().FindByID(ctx, g)
		if err != nil {
			return err
		}
		if group == nil {
			continue
		}
		granted, err := s.resolver.CanAccess(ctx, principal, directory.TypeGroup, group.DN, delegation.Write)
		if err != nil {
			return err
		}
		if !granted {
			continue
		}
		toRemove = append(toRemove, group)
	}

	for _, group := range toAdd {
		if err := s.repo.Groups().AddMember(ctx, group.ID, user.DN); err != nil {
			return err
		}
	}
	for _, group := range toRemove {
		if err := s.repo.Groups().RemoveMember(ctx, group.ID, user.DN); err != nil {
			return err
		}
	}
	return nil
}

// AddToGroup adds the user to a group the principal can write. Adding an
// existing member is a no-op.
func (s *Service) AddToGroup(ctx context.Context, principal, id, groupID string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	group, err := s.writableGroup(ctx, principal, groupID)
	if err != nil {
		return err
	}
	if user.InGroup(group.ID) {
		return nil
	}
	return s.repo.Groups().AddMember(ctx, group.ID, user.DN)
}

// RemoveFromGroup removes the membership unless the user is the group's
// last member.
func (s *Service) RemoveFromGroup(ctx context.Context, principal, id, groupID string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	group, err := s.writableGroup(ctx, principal, groupID)
	if err != nil {
		return err
	}
	if !user.InGroup(group.ID) {
		return nil
	}
	if lastMember(group, user.ID) {
		return validation.New("id", validation.ReasonLastMemberOfGroup)
	}
	return s.repo.Groups().RemoveMember(ctx, group.ID, user.DN)
}

func lastMember(group *directory.Group, userID string) bool {
	if len(group.Members) != 1 {
		return false
	}
	_, ok := group.Members[userID]
	return ok
}

// Lock disables authentication, recording when and by whom. Memberships and
// company are untouched.
func (s *Service) Lock(ctx context.Context, principal, id string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	if user.IsLocked() {
		return nil
	}
	return s.repo.Users().UpdateLock(ctx, user.ID, s.now(), namespace.Normalize(principal))
}

// Unlock clears the lock marker.
func (s *Service) Unlock(ctx context.Context, principal, id string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	if !user.IsLocked() {
		return nil
	}
	return s.repo.Users().UpdateLock(ctx, user.ID, time.Time{}, "")
}

// Isolate parks the user in the quarantine company and records the previous
// one, stripping organizational visibility without deleting the account.
func (s *Service) Isolate(ctx context.Context, principal, id string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	if user.IsIsolated() {
		return nil
	}
	if err := s.repo.Users().UpdateAttribute(ctx, user.ID, "isolated", single(user.Company)); err != nil {
		return err
	}
	return s.repo.Users().SetCompany(ctx, user.ID, s.quarantine)
}

// Restore returns an isolated user to its recorded previous company.
func (s *Service) Restore(ctx context.Context, principal, id string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}
	if !user.IsIsolated() {
		return nil
	}
	if err := s.repo.Users().SetCompany(ctx, user.ID, user.IsolatedCompany); err != nil {
		return err
	}
	return s.repo.Users().UpdateAttribute(ctx, user.ID, "isolated", nil)
}

// Delete removes every membership then the entry itself. The whole operation
// fails before any write when the user is the last member of any of its
// groups, so a group never empties out as a side effect.
func (s *Service) Delete(ctx context.Context, principal, id string) error {
	user, err := s.findExpected(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, principal, user); err != nil {
		return err
	}

	// Validate the invariant against the staged result first.
	groups := make([]*directory.Group, 0, len(user.Groups))
	for _, g := range user.Groups {
		group, err := s.repo.Groups().FindByID(ctx, g)
		if err != nil {
			return err
		}
		if group == nil {
			continue
		}
		if lastMember(group, user.ID) {
			return validation.New("id", validation.ReasonLastMemberOfGroup)
		}
		groups = append(groups, group)
	}

	for _, group := range groups {
		if err := s.repo.Groups().RemoveMember(ctx, group.ID, user.DN); err != nil {
			return err
		}
	}
	return s.repo.Users().Delete(ctx, user)
}
