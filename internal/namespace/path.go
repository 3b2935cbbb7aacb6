// Package namespace models hierarchical directory identifiers.
//
// A Path is an ordered list of "attr=value" components, leaf first, such as
// "cn=dig,ou=fonction,ou=groups,dc=sample,dc=com". Containment is suffix
// containment over whole components, never raw substring matching, so
// "ou=do" does not contain "ou=documents".
package namespace

import "strings"

// Path is a parsed, normalized namespace path. Components are stored leaf
// first, lower-cased and trimmed.
type Path struct {
	raw        string
	components []string
}

// Parse builds a Path from its textual form. Empty components are dropped.
func Parse(raw string) Path {
	parts := strings.Split(raw, ",")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		components = append(components, p)
	}
	return Path{raw: strings.TrimSpace(raw), components: components}
}

// String returns the original textual form.
func (p Path) String() string { return p.raw }

// Depth returns the number of components.
func (p Path) Depth() int { return len(p.components) }

// IsZero reports whether the path has no components.
func (p Path) IsZero() bool { return len(p.components) == 0 }

// Equal reports component-wise, case-insensitive equality.
func (p Path) Equal(other Path) bool {
	if len(p.components) != len(other.components) {
		return false
	}
	for i := range p.components {
		if p.components[i] != other.components[i] {
			return false
		}
	}
	return true
}

// AncestorOrEqual reports whether p is target itself or one of its ancestors,
// i.e. whether p's components are a suffix of target's components.
func (p Path) AncestorOrEqual(target Path) bool {
	offset := len(target.components) - len(p.components)
	if offset < 0 || len(p.components) == 0 {
		return false
	}
	for i, c := range p.components {
		if target.components[offset+i] != c {
			return false
		}
	}
	return true
}

// StrictAncestor reports whether p is an ancestor of target but not target
// itself.
func (p Path) StrictAncestor(target Path) bool {
	return len(p.components) < len(target.components) && p.AncestorOrEqual(target)
}

// IsAncestorOrEqual is the textual convenience form of AncestorOrEqual.
func IsAncestorOrEqual(root, target string) bool {
	return Parse(root).AncestorOrEqual(Parse(target))
}

// Parent returns the nearest enclosing path of target among candidates, the
// deepest strict ancestor. ok is false when no candidate encloses target.
func Parent(candidates []string, target string) (parent string, ok bool) {
	t := Parse(target)
	depth := 0
	for _, c := range candidates {
		if p := Parse(c); p.StrictAncestor(t) && p.Depth() > depth {
			parent, depth, ok = c, p.Depth(), true
		}
	}
	return parent, ok
}

// Join prepends one component to the path, producing the child textual form.
func Join(attr, value, parent string) string {
	return attr + "=" + value + "," + parent
}

// Normalize lowers and trims an identifier the way path components are
// compared. Used for container and user ids.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
