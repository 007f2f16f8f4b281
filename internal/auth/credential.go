// Package auth inspects the bearer credential supplied by the external
// authentication collaborator.
//
// The engine never mints or refreshes tokens; it only needs to know who the
// local user is and whether the credential is worth dialing with.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrEmptyToken is returned when the supplied credential is blank.
	ErrEmptyToken = errors.New("empty credential token")
	// ErrMalformedToken is returned when the token cannot be parsed as a JWT.
	ErrMalformedToken = errors.New("malformed credential token")
)

// Credential is a bearer token handed to Open by the caller.
type Credential struct {
	Token string

	claims jwt.MapClaims
}

// NewCredential parses the token without signature verification. Verification
// is the backend's job; locally we only read the standard claims.
func NewCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credential{}, ErrMalformedToken
	}
	return Credential{Token: token, claims: claims}, nil
}

// UserID returns the subject claim, the backend's id for the local user.
func (c Credential) UserID() string {
	sub, err := c.claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// ExpiresAt returns the expiry claim. ok is false when the token carries no
// expiry, in which case callers should not attempt proactive checks.
func (c Credential) ExpiresAt() (time.Time, bool) {
	exp, err := c.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token expiry has already passed at now.
func (c Credential) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// ExpiringSoon reports whether the token expires within the given window.
func (c Credential) ExpiringSoon(now time.Time, window time.Duration) bool {
	exp, ok := c.ExpiresAt()
	if !ok {
		return false
	}
	return exp.Sub(now) <= window
}
