// Package identity turns the bearer token held by the app into an explicit
// principal that is handed to the attempt and grading components. FromToken
// does not verify the signature; the server does that with Verify.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role distinguishes students from teachers.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

var (
	// ErrNoSubject is returned for a token without a subject claim.
	ErrNoSubject = errors.New("token has no subject")
	// ErrExpired is returned for a token whose exp claim lies in the past.
	ErrExpired = errors.New("token has expired")
)

// Claims is the claim set issued by the quiz backend.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
}

// Principal is the signed-in user as seen by the client core.
type Principal struct {
	Subject   string
	Name      string
	Role      Role
	Token     string
	ExpiresAt time.Time
}

// IsTeacher reports whether the principal may open the grading engine.
func (p Principal) IsTeacher() bool {
	return p.Role == RoleTeacher
}

// FromToken reads the principal out of a bearer token. now is used for the
// expiry check; a zero now skips it.
func FromToken(token string, now time.Time) (Principal, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, ErrNoSubject
	}

	p := Principal{
		Subject: claims.Subject,
		Name:    claims.Name,
		Role:    claims.Role,
		Token:   token,
	}
	if p.Role == "" {
		p.Role = RoleStudent
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
		if !now.IsZero() && now.After(p.ExpiresAt) {
			return Principal{}, ErrExpired
		}
	}
	return p, nil
}
