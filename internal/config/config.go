// Package config is the plain key→value configuration provider for mail
// templates and public URLs. Values are positional templates substituted
// with fmt.Sprintf.
package config

import (
	"os"
	"strings"
)

// Keys served by the provider.
const (
	KeyPublicURL    = "password.mail.url"
	KeyFrom         = "password.mail.from"
	KeyFromTitle    = "password.mail.from.title"
	KeyResetSubject = "password.mail.reset.subject"
	KeyResetContent = "password.mail.reset.content"
	KeyNewSubject   = "password.mail.new.subject"
	KeyNewContent   = "password.mail.new.content"
)

var defaults = map[string]string{
	KeyPublicURL:    "http://localhost:8080",
	KeyFrom:         "no-reply@localhost",
	KeyFromTitle:    "Identity service",
	KeyResetSubject: "Password reset request",
	KeyResetContent: "Hello %s,<br/>A password reset was requested for your account. Follow %s to choose a new password.<br/>%s, if you did not request this, ignore this mail: %s stays valid one hour only.",
	KeyNewSubject:   "Welcome %s",
	KeyNewContent:   "Hello %s,<br/>Your account %s has been created with password %s.<br/>Sign in at %s.<br/>%s (%s), change the password %s after your first login at %s.",
}

// Values resolves keys from an explicit map, then the environment, then the
// built-in defaults. Environment names are the upper-cased key with dots
// replaced by underscores, prefixed with ORGDIR_.
type Values struct {
	overrides map[string]string
}

// New returns a provider with the given explicit overrides.
func New(overrides map[string]string) *Values {
	return &Values{overrides: overrides}
}

// Get resolves one key, falling back to "" for unknown keys.
func (v *Values) Get(key string) string {
	if v != nil && v.overrides != nil {
		if val, ok := v.overrides[key]; ok {
			return val
		}
	}
	env := "ORGDIR_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
	if val := os.Getenv(env); val != "" {
		return val
	}
	return defaults[key]
}
