// Package tenancy holds the tenant context and the caller credentials that
// every administrative call is authenticated with.
package tenancy

import (
	"strings"

	"go.uber.org/zap/zapcore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Credentials identify the caller of an administrative operation.
// The secret is never rendered by String.
type Credentials struct {
	Login      string
	Secret     string
	Normalized bool
}

// NewCredentials creates raw, not yet normalized credentials
func NewCredentials(login, secret string) Credentials {
	return Credentials{Login: login, Secret: secret}
}

// String renders the credentials with the secret redacted
func (c Credentials) String() string {
	return "login=" + c.Login + " secret=***"
}

// GoString keeps %#v from printing the secret
func (c Credentials) GoString() string {
	return "tenancy.Credentials{" + c.String() + "}"
}

// IsEmpty reports whether no login was supplied
func (c Credentials) IsEmpty() bool {
	return strings.TrimSpace(c.Login) == ""
}

var lowerFolder = cases.Lower(language.Und)

// Normalize applies the tenant's login folding rule. It is pure and
// idempotent; it must be applied to both sides of every login comparison.
func Normalize(c Credentials, lowercase bool) Credentials {
	out := c
	out.Login = NormalizeLogin(c.Login, lowercase)
	out.Normalized = true
	return out
}

// NormalizeLogin folds a bare login identifier
func NormalizeLogin(login string, lowercase bool) string {
	login = strings.TrimSpace(login)
	if lowercase {
		login = lowerFolder.String(login)
	}
	return login
}

// SameLogin compares two logins after normalizing both with the same rule
func SameLogin(a, b string, lowercase bool) bool {
	return NormalizeLogin(a, lowercase) == NormalizeLogin(b, lowercase)
}

// MarshalLogObject lets zap log credentials without the secret
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("login", c.Login)
	enc.AddBool("normalized", c.Normalized)
	return nil
}
