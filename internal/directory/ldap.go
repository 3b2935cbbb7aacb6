package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"orgdir.org/internal/namespace"
)

// LDAPConfig carries the connection and naming-context settings of the LDAP
// backend.
type LDAPConfig struct {
	// Addr is an ldap:// or ldaps:// URL.
	Addr         string
	BindDN       string
	BindPassword string
	// UserBase, GroupBase and CompanyBase are the naming contexts of the
	// three entity kinds. Users live under their company:
	// uid=<id>,ou=<company>,<UserBase>.
	UserBase    string
	GroupBase   string
	CompanyBase string
}

// LDAP is a Repository over a live LDAP server. A fresh connection is dialed
// per operation; the server handles pooling.
type LDAP struct {
	cfg LDAPConfig
}

// NewLDAP validates the configuration and returns the repository.
func NewLDAP(cfg LDAPConfig) (*LDAP, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("directory: ldap address is required")
	}
	if cfg.UserBase == "" || cfg.GroupBase == "" || cfg.CompanyBase == "" {
		return nil, fmt.Errorf("directory: user, group and company bases are required")
	}
	return &LDAP{cfg: cfg}, nil
}

func (l *LDAP) Users() UserRepository        { return &ldapUsers{l} }
func (l *LDAP) Groups() GroupRepository      { return &ldapGroups{l} }
func (l *LDAP) Companies() CompanyRepository { return &ldapCompanies{l} }

func (l *LDAP) connect() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(l.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("directory: dial %s: %w", l.cfg.Addr, err)
	}
	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("directory: bind %s: %w", l.cfg.BindDN, err)
		}
	}
	return conn, nil
}

// Ping checks the server responds on the user naming context.
func (l *LDAP) Ping(_ context.Context) error {
	conn, err := l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewSearchRequest(l.cfg.UserBase, ldap.ScopeBaseObject, ldap.DerefAlways,
		0, 0, false, "(objectClass=*)", []string{"1.1"}, nil)
	_, err = conn.Search(req)
	return err
}

// The lock marker and the quarantine marker are serialized into the
// description attribute: "lock|<RFC3339>|<principal>" and
// "isolated|<companyID>".
const (
	lockMarker    = "lock"
	isolateMarker = "isolated"
)

var userAttributes = []string{"uid", "givenName", "sn", "mail", "departmentNumber", "employeeNumber", "description"}

type ldapUsers struct{ l *LDAP }

func (r *ldapUsers) search(filter string) ([]*User, error) {
	conn, err := r.l.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(r.l.cfg.UserBase, ldap.ScopeWholeSubtree, ldap.DerefAlways,
		0, 0, false, filter, userAttributes, nil)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("directory: search users: %w", err)
	}

	users := make([]*User, 0, len(res.Entries))
	for _, entry := range res.Entries {
		users = append(users, entryToUser(entry))
	}

	// Memberships come from the group entries, indexed once per search.
	groups, err := (&ldapGroups{r.l}).FindAll(context.Background())
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		for id, g := range groups {
			if _, ok := g.Members[u.ID]; ok {
				u.Groups = append(u.Groups, id)
			}
		}
	}
	return users, nil
}

func entryToUser(entry *ldap.Entry) *User {
	u := &User{
		ID:         namespace.Normalize(entry.GetAttributeValue("uid")),
		DN:         entry.DN,
		FirstName:  entry.GetAttributeValue("givenName"),
		LastName:   entry.GetAttributeValue("sn"),
		Mails:      entry.GetAttributeValues("mail"),
		Department: entry.GetAttributeValue("departmentNumber"),
		LocalID:    entry.GetAttributeValue("employeeNumber"),
	}
	// Company is the ou the user entry sits in.
	if parent := strings.SplitN(entry.DN, ",", 2); len(parent) == 2 {
		u.Company = leafValue(parent[1])
	}
	for _, desc := range entry.GetAttributeValues("description") {
		parts := strings.Split(desc, "|")
		switch parts[0] {
		case lockMarker:
			if len(parts) == 3 {
				if at, err := time.Parse(time.RFC3339, parts[1]); err == nil {
					u.LockedAt = at
					u.LockedBy = parts[2]
				}
			}
		case isolateMarker:
			if len(parts) == 2 {
				u.IsolatedCompany = parts[1]
			}
		}
	}
	return u
}

func (r *ldapUsers) FindByID(ctx context.Context, id string) (*User, error) {
	users, err := r.search(fmt.Sprintf("(&(objectClass=inetOrgPerson)(uid=%s))", ldap.EscapeFilter(namespace.Normalize(id))))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

func (r *ldapUsers) FindAll(ctx context.Context) (map[string]*User, error) {
	users, err := r.search("(objectClass=inetOrgPerson)")
	if err != nil {
		return nil, err
	}
	all := make(map[string]*User, len(users))
	for _, u := range users {
		all[u.ID] = u
	}
	return all, nil
}

var userAttributeNames = map[string]string{
	"firstName":  "givenName",
	"lastName":   "sn",
	"mail":       "mail",
	"department": "departmentNumber",
	"localId":    "employeeNumber",
}

func (r *ldapUsers) FindAllBy(ctx context.Context, attribute, value string) ([]*User, error) {
	name, ok := userAttributeNames[attribute]
	if !ok {
		return nil, fmt.Errorf("directory: unsupported attribute %q", attribute)
	}
	return r.search(fmt.Sprintf("(&(objectClass=inetOrgPerson)(%s=%s))", name, ldap.EscapeFilter(value)))
}

func (r *ldapUsers) Create(ctx context.Context, user *User) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	user.ID = namespace.Normalize(user.ID)
	user.DN = "uid=" + user.ID + ",ou=" + user.Company + "," + r.l.cfg.UserBase
	req := ldap.NewAddRequest(user.DN, nil)
	req.Attribute("objectClass", []string{"top", "person", "organizationalPerson", "inetOrgPerson"})
	req.Attribute("uid", []string{user.ID})
	req.Attribute("cn", []string{user.FullName()})
	req.Attribute("givenName", []string{user.FirstName})
	req.Attribute("sn", []string{user.LastName})
	if len(user.Mails) > 0 {
		req.Attribute("mail", user.Mails)
	}
	if user.Department != "" {
		req.Attribute("departmentNumber", []string{user.Department})
	}
	if user.LocalID != "" {
		req.Attribute("employeeNumber", []string{user.LocalID})
	}
	if err := conn.Add(req); err != nil {
		return fmt.Errorf("directory: add user %s: %w", user.ID, err)
	}
	return nil
}

func (r *ldapUsers) Delete(ctx context.Context, user *User) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Del(ldap.NewDelRequest(user.DN, nil)); err != nil {
		return fmt.Errorf("directory: delete user %s: %w", user.ID, err)
	}
	return nil
}

func (r *ldapUsers) dnOf(ctx context.Context, id string) (string, error) {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrUnknownID
	}
	return u.DN, nil
}

func (r *ldapUsers) UpdateAttribute(ctx context.Context, id, attribute string, values []string) error {
	name, ok := userAttributeNames[attribute]
	if !ok && attribute != "isolated" {
		return fmt.Errorf("directory: unsupported attribute %q", attribute)
	}
	dn, err := r.dnOf(ctx, id)
	if err != nil {
		return err
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewModifyRequest(dn, nil)
	if attribute == "isolated" {
		// Replace the whole marker set alongside any lock marker.
		u, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		var markers []string
		if u != nil && u.IsLocked() {
			markers = append(markers, lockMarker+"|"+u.LockedAt.UTC().Format(time.RFC3339)+"|"+u.LockedBy)
		}
		if len(values) > 0 && values[0] != "" {
			markers = append(markers, isolateMarker+"|"+values[0])
		}
		req.Replace("description", markers)
	} else {
		req.Replace(name, values)
	}
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("directory: modify %s of %s: %w", attribute, id, err)
	}
	return nil
}

func (r *ldapUsers) UpdateLock(ctx context.Context, id string, lockedAt time.Time, lockedBy string) error {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUnknownID
	}
	var markers []string
	if !lockedAt.IsZero() {
		markers = append(markers, lockMarker+"|"+lockedAt.UTC().Format(time.RFC3339)+"|"+lockedBy)
	}
	if u.IsIsolated() {
		markers = append(markers, isolateMarker+"|"+u.IsolatedCompany)
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(u.DN, nil)
	req.Replace("description", markers)
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("directory: lock %s: %w", id, err)
	}
	return nil
}

func (r *ldapUsers) SetCompany(ctx context.Context, id, companyID string) error {
	dn, err := r.dnOf(ctx, id)
	if err != nil {
		return err
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	newSuperior := "ou=" + namespace.Normalize(companyID) + "," + r.l.cfg.UserBase
	req := ldap.NewModifyDNRequest(dn, "uid="+namespace.Normalize(id), true, newSuperior)
	if err := conn.ModifyDN(req); err != nil {
		return fmt.Errorf("directory: move %s to %s: %w", id, companyID, err)
	}
	return nil
}

func (r *ldapUsers) SetPassword(ctx context.Context, id, password string) error {
	dn, err := r.dnOf(ctx, id)
	if err != nil {
		return err
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.PasswordModify(ldap.NewPasswordModifyRequest(dn, "", password)); err != nil {
		return fmt.Errorf("directory: set password of %s: %w", id, err)
	}
	return nil
}

func (r *ldapUsers) Authenticate(ctx context.Context, login, password string) (bool, error) {
	dn, err := r.dnOf(ctx, login)
	if err != nil {
		return false, err
	}
	conn, err := ldap.DialURL(r.l.cfg.Addr)
	if err != nil {
		return false, fmt.Errorf("directory: dial %s: %w", r.l.cfg.Addr, err)
	}
	defer conn.Close()
	if err := conn.Bind(dn, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil
		}
		return false, fmt.Errorf("directory: authenticate %s: %w", login, err)
	}
	return true, nil
}

type ldapGroups struct{ l *LDAP }

func entryToGroup(entry *ldap.Entry) *Group {
	g := &Group{
		ID:      namespace.Normalize(entry.GetAttributeValue("cn")),
		Name:    entry.GetAttributeValue("cn"),
		DN:      entry.DN,
		Members: map[string]struct{}{},
	}
	for _, member := range entry.GetAttributeValues("uniqueMember") {
		if id := leafValue(member); id != "" {
			g.Members[id] = struct{}{}
		}
	}
	for _, desc := range entry.GetAttributeValues("description") {
		if desc == "locked" {
			g.Locked = true
		}
	}
	return g
}

func (r *ldapGroups) find(filter string) ([]*Group, error) {
	conn, err := r.l.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	req := ldap.NewSearchRequest(r.l.cfg.GroupBase, ldap.ScopeWholeSubtree, ldap.DerefAlways,
		0, 0, false, filter, []string{"cn", "uniqueMember", "description"}, nil)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("directory: search groups: %w", err)
	}
	groups := make([]*Group, 0, len(res.Entries))
	for _, entry := range res.Entries {
		groups = append(groups, entryToGroup(entry))
	}
	return groups, nil
}

func (r *ldapGroups) FindByID(ctx context.Context, id string) (*Group, error) {
	groups, err := r.find(fmt.Sprintf("(&(objectClass=groupOfUniqueNames)(cn=%s))", ldap.EscapeFilter(namespace.Normalize(id))))
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups[0], nil
}

func (r *ldapGroups) FindAll(ctx context.Context) (map[string]*Group, error) {
	groups, err := r.find("(objectClass=groupOfUniqueNames)")
	if err != nil {
		return nil, err
	}
	all := make(map[string]*Group, len(groups))
	for _, g := range groups {
		all[g.ID] = g
	}
	return all, nil
}

func (r *ldapGroups) Create(ctx context.Context, group *Group) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewAddRequest(group.DN, nil)
	req.Attribute("objectClass", []string{"top", "groupOfUniqueNames"})
	req.Attribute("cn", []string{group.Name})
	// groupOfUniqueNames requires at least one member; seed with the group
	// itself until real members arrive.
	req.Attribute("uniqueMember", []string{group.DN})
	if err := conn.Add(req); err != nil {
		return fmt.Errorf("directory: add group %s: %w", group.ID, err)
	}
	return nil
}

func (r *ldapGroups) Delete(ctx context.Context, group *Group) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Del(ldap.NewDelRequest(group.DN, nil)); err != nil {
		return fmt.Errorf("directory: delete group %s: %w", group.ID, err)
	}
	return nil
}

func (r *ldapGroups) modifyMember(ctx context.Context, groupID, memberDN string, add bool) error {
	g, err := r.FindByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrUnknownID
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(g.DN, nil)
	if add {
		req.Add("uniqueMember", []string{memberDN})
	} else {
		req.Delete("uniqueMember", []string{memberDN})
	}
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("directory: modify members of %s: %w", groupID, err)
	}
	return nil
}

func (r *ldapGroups) AddMember(ctx context.Context, groupID, memberDN string) error {
	return r.modifyMember(ctx, groupID, memberDN, true)
}

func (r *ldapGroups) RemoveMember(ctx context.Context, groupID, memberDN string) error {
	return r.modifyMember(ctx, groupID, memberDN, false)
}

func (r *ldapGroups) Empty(ctx context.Context, groupID string) error {
	g, err := r.FindByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrUnknownID
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(g.DN, nil)
	req.Replace("uniqueMember", []string{g.DN})
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("directory: empty group %s: %w", groupID, err)
	}
	return nil
}

func (r *ldapGroups) AddAttributes(ctx context.Context, dn, attribute string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewModifyRequest(dn, nil)
	req.Add(attribute, values)
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("directory: add %s to %s: %w", attribute, dn, err)
	}
	return nil
}

type ldapCompanies struct{ l *LDAP }

func (r *ldapCompanies) find(filter string) ([]*Company, error) {
	conn, err := r.l.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	req := ldap.NewSearchRequest(r.l.cfg.CompanyBase, ldap.ScopeWholeSubtree, ldap.DerefAlways,
		0, 0, false, filter, []string{"ou", "description"}, nil)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("directory: search companies: %w", err)
	}
	companies := make([]*Company, 0, len(res.Entries))
	for _, entry := range res.Entries {
		c := &Company{
			ID:   namespace.Normalize(entry.GetAttributeValue("ou")),
			Name: entry.GetAttributeValue("ou"),
			DN:   entry.DN,
		}
		for _, desc := range entry.GetAttributeValues("description") {
			if desc == "locked" {
				c.Locked = true
			}
		}
		companies = append(companies, c)
	}
	return companies, nil
}

func (r *ldapCompanies) FindByID(ctx context.Context, id string) (*Company, error) {
	companies, err := r.find(fmt.Sprintf("(&(objectClass=organizationalUnit)(ou=%s))", ldap.EscapeFilter(namespace.Normalize(id))))
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, nil
	}
	return companies[0], nil
}

func (r *ldapCompanies) FindAll(ctx context.Context) (map[string]*Company, error) {
	companies, err := r.find("(objectClass=organizationalUnit)")
	if err != nil {
		return nil, err
	}
	all := make(map[string]*Company, len(companies))
	for _, c := range companies {
		all[c.ID] = c
	}
	return all, nil
}

func (r *ldapCompanies) Create(ctx context.Context, company *Company) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	req := ldap.NewAddRequest(company.DN, nil)
	req.Attribute("objectClass", []string{"top", "organizationalUnit"})
	req.Attribute("ou", []string{company.Name})
	if err := conn.Add(req); err != nil {
		return fmt.Errorf("directory: add company %s: %w", company.ID, err)
	}
	return nil
}

func (r *ldapCompanies) Delete(ctx context.Context, company *Company) error {
	conn, err := r.l.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Del(ldap.NewDelRequest(company.DN, nil)); err != nil {
		return fmt.Errorf("directory: delete company %s: %w", company.ID, err)
	}
	return nil
}
