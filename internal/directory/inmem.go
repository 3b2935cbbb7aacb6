package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"orgdir.org/internal/namespace"
)

// InMemory is a Repository backed by process-local maps. It is the default
// backend for tests and local runs without an LDAP server.
type InMemory struct {
	mu        sync.RWMutex
	users     map[string]*User
	groups    map[string]*Group
	companies map[string]*Company
	passwords map[string]string
}

// NewInMemory returns an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		users:     map[string]*User{},
		groups:    map[string]*Group{},
		companies: map[string]*Company{},
		passwords: map[string]string{},
	}
}

func (m *InMemory) Users() UserRepository       { return (*memUsers)(m) }
func (m *InMemory) Groups() GroupRepository     { return (*memGroups)(m) }
func (m *InMemory) Companies() CompanyRepository { return (*memCompanies)(m) }

// leafValue extracts the normalized value of the first DN component, the id
// convention shared by all backends.
func leafValue(dn string) string {
	first := strings.SplitN(dn, ",", 2)[0]
	if i := strings.Index(first, "="); i >= 0 {
		first = first[i+1:]
	}
	return namespace.Normalize(first)
}

func copyUser(u *User) *User {
	clone := *u
	clone.Mails = append([]string(nil), u.Mails...)
	clone.Groups = append([]string(nil), u.Groups...)
	return &clone
}

func copyGroup(g *Group) *Group {
	clone := *g
	clone.Members = make(map[string]struct{}, len(g.Members))
	for id := range g.Members {
		clone.Members[id] = struct{}{}
	}
	return &clone
}

type memUsers InMemory

func (m *memUsers) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[namespace.Normalize(id)]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (m *memUsers) FindAll(_ context.Context) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[string]*User, len(m.users))
	for id, u := range m.users {
		all[id] = copyUser(u)
	}
	return all, nil
}

func (m *memUsers) FindAllBy(_ context.Context, attribute, value string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []*User
	for _, u := range m.users {
		var match bool
		switch attribute {
		case "firstName":
			match = strings.EqualFold(u.FirstName, value)
		case "lastName":
			match = strings.EqualFold(u.LastName, value)
		case "mail":
			for _, mail := range u.Mails {
				if strings.EqualFold(mail, value) {
					match = true
					break
				}
			}
		case "department":
			match = strings.EqualFold(u.Department, value)
		case "localId":
			match = strings.EqualFold(u.LocalID, value)
		default:
			return nil, fmt.Errorf("directory: unsupported attribute %q", attribute)
		}
		if match {
			found = append(found, copyUser(u))
		}
	}
	return found, nil
}

func (m *memUsers) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := namespace.Normalize(user.ID)
	user.ID = id
	if user.DN == "" {
		// Same naming convention as the LDAP backend: the entry lives
		// under its company's subtree.
		base := "ou=" + namespace.Normalize(user.Company)
		if c, ok := m.companies[namespace.Normalize(user.Company)]; ok && c.DN != "" {
			base = c.DN
		}
		user.DN = "uid=" + id + "," + base
	}
	m.users[id] = copyUser(user)
	return nil
}

func (m *memUsers) Delete(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, namespace.Normalize(user.ID))
	delete(m.passwords, namespace.Normalize(user.ID))
	return nil
}

func (m *memUsers) UpdateAttribute(_ context.Context, id, attribute string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[namespace.Normalize(id)]
	if !ok {
		return ErrUnknownID
	}
	single := ""
	if len(values) > 0 {
		single = values[0]
	}
	switch attribute {
	case "firstName":
		u.FirstName = single
	case "lastName":
		u.LastName = single
	case "mail":
		u.Mails = append([]string(nil), values...)
	case "department":
		u.Department = single
	case "localId":
		u.LocalID = single
	case "isolated":
		u.IsolatedCompany = single
	default:
		return fmt.Errorf("directory: unsupported attribute %q", attribute)
	}
	return nil
}

func (m *memUsers) SetCompany(_ context.Context, id, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[namespace.Normalize(id)]
	if !ok {
		return ErrUnknownID
	}
	u.Company = namespace.Normalize(companyID)
	return nil
}

func (m *memUsers) SetPassword(_ context.Context, id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[namespace.Normalize(id)]; !ok {
		return ErrUnknownID
	}
	m.passwords[namespace.Normalize(id)] = password
	return nil
}

func (m *memUsers) Authenticate(_ context.Context, login, password string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.passwords[namespace.Normalize(login)]
	return ok && stored == password, nil
}

func (m *memUsers) UpdateLock(_ context.Context, id string, lockedAt time.Time, lockedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[namespace.Normalize(id)]
	if !ok {
		return ErrUnknownID
	}
	u.LockedAt = lockedAt
	u.LockedBy = lockedBy
	return nil
}

type memGroups InMemory

func (m *memGroups) FindByID(_ context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[namespace.Normalize(id)]
	if !ok {
		return nil, nil
	}
	return copyGroup(g), nil
}

func (m *memGroups) FindAll(_ context.Context) (map[string]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[string]*Group, len(m.groups))
	for id, g := range m.groups {
		all[id] = copyGroup(g)
	}
	return all, nil
}

func (m *memGroups) Create(_ context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := namespace.Normalize(group.ID)
	group.ID = id
	if group.Members == nil {
		group.Members = map[string]struct{}{}
	}
	m.groups[id] = copyGroup(group)
	return nil
}

func (m *memGroups) Delete(_ context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, namespace.Normalize(group.ID))
	return nil
}

func (m *memGroups) AddMember(_ context.Context, groupID, memberDN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[namespace.Normalize(groupID)]
	if !ok {
		return ErrUnknownID
	}
	member := leafValue(memberDN)
	g.Members[member] = struct{}{}
	if u, ok := m.users[member]; ok && !u.InGroup(g.ID) {
		u.Groups = append(u.Groups, g.ID)
	}
	return nil
}

func (m *memGroups) RemoveMember(_ context.Context, groupID, memberDN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[namespace.Normalize(groupID)]
	if !ok {
		return ErrUnknownID
	}
	member := leafValue(memberDN)
	delete(g.Members, member)
	if u, ok := m.users[member]; ok {
		kept := u.Groups[:0]
		for _, gid := range u.Groups {
			if gid != g.ID {
				kept = append(kept, gid)
			}
		}
		u.Groups = kept
	}
	return nil
}

func (m *memGroups) Empty(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[namespace.Normalize(groupID)]
	if !ok {
		return ErrUnknownID
	}
	for member := range g.Members {
		if u, ok := m.users[member]; ok {
			kept := u.Groups[:0]
			for _, gid := range u.Groups {
				if gid != g.ID {
					kept = append(kept, gid)
				}
			}
			u.Groups = kept
		}
	}
	g.Members = map[string]struct{}{}
	return nil
}

func (m *memGroups) AddAttributes(_ context.Context, _, _ string, _ []string) error {
	// Auxiliary attributes are not materialized by the in-memory backend.
	return nil
}

type memCompanies InMemory

func (m *memCompanies) FindByID(_ context.Context, id string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[namespace.Normalize(id)]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (m *memCompanies) FindAll(_ context.Context) (map[string]*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[string]*Company, len(m.companies))
	for id, c := range m.companies {
		clone := *c
		all[id] = &clone
	}
	return all, nil
}

func (m *memCompanies) Create(_ context.Context, company *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := namespace.Normalize(company.ID)
	company.ID = id
	clone := *company
	m.companies[id] = &clone
	return nil
}

func (m *memCompanies) Delete(_ context.Context, company *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.companies, namespace.Normalize(company.ID))
	return nil
}
