// Package directory defines the entities stored in the backing directory and
// the repository ports used to query and mutate them. Implementations live in
// this package too: an LDAP client and an in-memory store for tests and local
// runs.
package directory

import (
	"sort"
	"strings"
	"time"

	"orgdir.org/internal/namespace"
)

// ContainerType discriminates the two container kinds of the namespace.
type ContainerType string

const (
	TypeGroup   ContainerType = "GROUP"
	TypeCompany ContainerType = "COMPANY"
)

// ParseContainerType maps a textual type to a ContainerType.
func ParseContainerType(s string) (ContainerType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(TypeGroup):
		return TypeGroup, true
	case string(TypeCompany):
		return TypeCompany, true
	}
	return "", false
}

// User is a directory identity. ID is the normalized unique login.
type User struct {
	ID         string    `json:"id"`
	DN         string    `json:"-"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Mails      []string  `json:"mails"`
	Company    string    `json:"company"`
	Department string    `json:"department,omitempty"`
	LocalID    string    `json:"localId,omitempty"`
	Groups     []string  `json:"groups"`
	LockedAt   time.Time `json:"locked,omitempty"`
	LockedBy   string    `json:"lockedBy,omitempty"`
	// IsolatedCompany keeps the previous company of a quarantined user.
	IsolatedCompany string `json:"isolated,omitempty"`
	Secured         bool   `json:"secured"`
}

// IsLocked reports whether authentication has been disabled for the user.
func (u *User) IsLocked() bool { return !u.LockedAt.IsZero() }

// IsIsolated reports whether the user has been moved to the quarantine
// company.
func (u *User) IsIsolated() bool { return u.IsolatedCompany != "" }

// InGroup reports membership of the given normalized group id.
func (u *User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// HasMail performs a case-insensitive match against the known addresses.
func (u *User) HasMail(mail string) bool {
	for _, m := range u.Mails {
		if strings.EqualFold(m, mail) {
			return true
		}
	}
	return false
}

// FullName is the display name used in notification mails.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Group is a membership container. Members holds normalized member ids,
// users and nested groups alike.
type Group struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	DN      string              `json:"-"`
	Members map[string]struct{} `json:"-"`
	Locked  bool                `json:"locked"`
}

// MemberIDs returns the member ids in stable order.
func (g *Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for id := range g.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Company is an organizational container.
type Company struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	DN     string `json:"-"`
	Locked bool   `json:"locked"`
}

// Tree returns the company's ancestor chain, itself included, resolved
// against the full company map.
func (c *Company) Tree(all map[string]*Company) []*Company {
	path := namespace.Parse(c.DN)
	var chain []*Company
	for _, candidate := range all {
		if namespace.Parse(candidate.DN).AncestorOrEqual(path) {
			chain = append(chain, candidate)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].ID < chain[j].ID })
	return chain
}
