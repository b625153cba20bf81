// Package session derives the viewer identity from a session token.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/projecthub/hubchat/internal/models"
)

// Sentinel errors for token inspection.
var (
	// ErrNoToken indicates no session token was configured.
	ErrNoToken = errors.New("no session token")

	// ErrNoSubject indicates the token carries no user id.
	ErrNoSubject = errors.New("token has no user id")

	// ErrExpired indicates the token's expiry has passed.
	ErrExpired = errors.New("session token expired")
)

// Claims are the fields the backend puts into its session tokens.
// Backends disagree on the user id claim, so several are accepted.
type Claims struct {
	jwt.RegisteredClaims
	LegacyID models.ID `json:"id,omitempty"`
	UserID   models.ID `json:"userId,omitempty"`
	Role     string    `json:"role,omitempty"`
}

// Session is an authenticated viewer.
type Session struct {
	Token     string
	Identity  models.Identity
	ExpiresAt time.Time
}

// Expired reports whether the token expired before now. Tokens without an
// expiry never expire.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ParseToken reads the viewer identity out of a JWT without verifying its
// signature. Verification is the server's job; the client only needs to know
// who it is acting as.
func ParseToken(token string) (Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Session{}, ErrNoToken
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Session{}, fmt.Errorf("parse session token: %w", err)
	}

	userID := claims.UserID
	if userID.IsZero() {
		userID = claims.LegacyID
	}
	if userID.IsZero() {
		userID = models.ID(strings.TrimSpace(claims.Subject))
	}
	if userID.IsZero() {
		return Session{}, ErrNoSubject
	}

	s := Session{
		Token:    token,
		Identity: models.Identity{UserID: userID, Role: claims.Role},
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Resolve builds a session from a token, letting explicit values fill in or
// override what the token says. An opaque (non-JWT) token is accepted when
// userID is given.
func Resolve(token string, userID models.ID, role string, now time.Time) (Session, error) {
	s, err := ParseToken(token)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoToken):
		return Session{}, err
	case !userID.IsZero():
		s = Session{Token: strings.TrimSpace(token)}
	default:
		return Session{}, err
	}

	if !userID.IsZero() {
		s.Identity.UserID = userID
	}
	if role != "" {
		s.Identity.Role = role
	}
	if s.Expired(now) {
		return Session{}, fmt.Errorf("%w at %s", ErrExpired, s.ExpiresAt.Format(time.RFC3339))
	}
	return s, nil
}
