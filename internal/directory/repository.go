package directory

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownID is returned when an entity does not exist or the caller has no
// right to see it. The two cases are deliberately indistinguishable.
var ErrUnknownID = errors.New("directory: unknown id")

// UserSearchAttributes are the attribute names FindAllBy accepts, common to
// every backend.
var UserSearchAttributes = []string{"firstName", "lastName", "mail", "department", "localId"}

// IsUserSearchAttribute reports whether name can be used with FindAllBy.
func IsUserSearchAttribute(name string) bool {
	for _, a := range UserSearchAttributes {
		if a == name {
			return true
		}
	}
	return false
}

// UserRepository is the port to user entries.
type UserRepository interface {
	// FindByID returns the user or nil when absent. Absence is not an error
	// at this layer; callers decide whether to conflate it with forbidden.
	FindByID(ctx context.Context, id string) (*User, error)
	FindAll(ctx context.Context) (map[string]*User, error)
	// FindAllBy returns users whose given attribute holds the value. The
	// attribute must be one of UserSearchAttributes.
	FindAllBy(ctx context.Context, attribute, value string) ([]*User, error)
	Create(ctx context.Context, user *User) error
	Delete(ctx context.Context, user *User) error
	// UpdateAttribute replaces an attribute's values. An empty slice clears
	// the attribute.
	UpdateAttribute(ctx context.Context, id, attribute string, values []string) error
	// SetCompany moves the user under another company subtree.
	SetCompany(ctx context.Context, id, companyID string) error
	// UpdateLock sets or clears the authentication lock marker. A zero
	// lockedAt clears it.
	UpdateLock(ctx context.Context, id string, lockedAt time.Time, lockedBy string) error
	SetPassword(ctx context.Context, id, password string) error
	Authenticate(ctx context.Context, login, password string) (bool, error)
}

// GroupRepository is the port to group entries.
type GroupRepository interface {
	FindByID(ctx context.Context, id string) (*Group, error)
	FindAll(ctx context.Context) (map[string]*Group, error)
	Create(ctx context.Context, group *Group) error
	Delete(ctx context.Context, group *Group) error
	// AddMember registers memberDN in the group. The member id is derived
	// from the DN leaf.
	AddMember(ctx context.Context, groupID, memberDN string) error
	RemoveMember(ctx context.Context, groupID, memberDN string) error
	// Empty removes every member of the group.
	Empty(ctx context.Context, groupID string) error
	// AddAttributes appends values to a multi-valued attribute of the entry.
	AddAttributes(ctx context.Context, dn, attribute string, values []string) error
}

// CompanyRepository is the port to company entries.
type CompanyRepository interface {
	FindByID(ctx context.Context, id string) (*Company, error)
	FindAll(ctx context.Context) (map[string]*Company, error)
	Create(ctx context.Context, company *Company) error
	Delete(ctx context.Context, company *Company) error
}

// Repository bundles the three entity ports behind one backend.
type Repository interface {
	Users() UserRepository
	Groups() GroupRepository
	Companies() CompanyRepository
}
