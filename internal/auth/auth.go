// Package auth verifies bearer tokens at connection time and re-checks
// session binding on individual events.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yongtao-wang/collab-todo/internal/collaberr"
)

// Verifier checks bearer tokens against a shared secret (AUTH_SECRET),
// extracting user_id from the `sub` claim.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken returns the user_id encoded in a valid, unexpired token, or a
// *collaberr.CollabError of kind auth_error.
func (v *Verifier) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", collaberr.Wrap(collaberr.KindAuthError, "invalid bearer token", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", collaberr.New(collaberr.KindAuthError, "malformed token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", collaberr.New(collaberr.KindAuthError, "token missing sub claim")
	}
	return sub, nil
}

// SessionBinder re-verifies that a session still has a bound user_id before
// a handler runs.
type SessionBinder interface {
	UserForSession(sessionID string) (string, bool)
}

// CheckSessionBound returns a *collaberr.CollabError of kind auth_error if
// the session has no bound user, which should not happen in practice since
// binding happens at connect time, but handlers re-check defensively.
func CheckSessionBound(binder SessionBinder, sessionID string) (string, error) {
	userID, ok := binder.UserForSession(sessionID)
	if !ok {
		return "", collaberr.New(collaberr.KindAuthError, "session has no bound user")
	}
	return userID, nil
}
