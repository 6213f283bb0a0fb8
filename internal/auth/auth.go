// Package auth verifies the two credentials the service accepts: HMAC-signed
// JWTs on dashboard and listen connections, and a shared bearer token on the
// provider webhook.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the token. Anything else is rejected.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoTenant     = errors.New("auth: token missing tenant")
)

// Principal is the verified identity behind a connection.
type Principal struct {
	UserID   string
	TenantID string
	Role     string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type claims struct {
	jwt.RegisteredClaims

	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify parses and validates a token string, returning the principal it
// identifies. The subject claim carries the user ID; a missing role defaults
// to "user".
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	var c claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if _, err := parser.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if c.TenantID == "" {
		return Principal{}, ErrNoTenant
	}

	role := c.Role
	switch role {
	case "":
		role = RoleUser
	case RoleAdmin, RoleUser:
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return Principal{UserID: c.Subject, TenantID: c.TenantID, Role: role}, nil
}

// Issue signs a token for the given principal, valid for ttl. Used by tests
// and local tooling; production tokens come from the identity provider.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := v.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: p.TenantID,
		Role:     p.Role,
	})
	return t.SignedString(v.secret)
}

// CheckWebhookToken compares a presented webhook token against the configured
// one in constant time. An empty configured token disables the check.
func CheckWebhookToken(configured, presented string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
