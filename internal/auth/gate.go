package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	// ErrNotConfigured reports that the server holds no secret to check against.
	ErrNotConfigured = errors.New("auth: secret not configured")
	// ErrUnauthorized reports a missing or mismatched credential.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// Principal names who passed the gate.
type Principal string

const (
	PrincipalAdmin Principal = "admin"
	PrincipalCron  Principal = "cron"
)

// Gate checks the shared admin key and the scheduler bearer secret.
type Gate struct {
	adminKey   string
	cronSecret string
}

func NewGate(adminKey, cronSecret string) *Gate {
	return &Gate{
		adminKey:   strings.TrimSpace(adminKey),
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

// AuthorizeRun accepts either the admin key header or a bearer token equal to
// the cron secret. It fails closed with ErrNotConfigured when neither secret
// is set.
func (g *Gate) AuthorizeRun(adminHeader, authorization string) (Principal, error) {
	if g.adminKey == "" && g.cronSecret == "" {
		return "", ErrNotConfigured
	}
	if g.adminKey != "" && equal(adminHeader, g.adminKey) {
		return PrincipalAdmin, nil
	}
	if g.cronSecret != "" {
		if tok := BearerToken(authorization); tok != "" && equal(tok, g.cronSecret) {
			return PrincipalCron, nil
		}
	}
	return "", ErrUnauthorized
}

// AuthorizeAdmin accepts only the admin key header.
func (g *Gate) AuthorizeAdmin(adminHeader string) error {
	if g.adminKey == "" {
		return ErrNotConfigured
	}
	if !equal(adminHeader, g.adminKey) {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
