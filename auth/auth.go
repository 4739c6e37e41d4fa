// Package auth inspects the bearer tokens which authorize access to remote
// libSQL databases. Tokens are JWTs signed by the database provider, and
// can't be verified by clients. Their claims are still informative: an
// expired or read-only token explains remote failures before they happen.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Claims of a libSQL auth token.
type Claims struct {
	jwt.RegisteredClaims
	// Access is "ro" for read-only tokens, or "rw" (or empty) for read-write.
	Access string `json:"a,omitempty"`
}

// ReadOnly is true if the token grants read-only access.
func (c Claims) ReadOnly() bool { return c.Access == "ro" }

// Expired is true if the token carries an expiry at or before |now|.
// Tokens without an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Inspect parses the Claims of |token| without verifying its signature.
// A "Bearer " prefix is permitted.
func Inspect(token string) (Claims, error) {
	var claims Claims
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, errors.WithMessage(err, "parsing auth token")
	}
	return claims, nil
}

// CheckToken logs a warning if |token| has expired, and is otherwise silent.
// Tokens which aren't JWTs are passed through to the remote, which is the
// authority on whether they're valid.
func CheckToken(token string, fields log.Fields) {
	if token == "" {
		return
	}
	var claims, err = Inspect(token)
	if err != nil {
		log.WithFields(fields).WithField("err", err).Debug("auth token is not an inspectable JWT")
		return
	}
	if claims.Expired(timeNow()) {
		log.WithFields(fields).WithField("expiredAt", claims.ExpiresAt.Time).
			Warn("auth token has expired; remote requests will likely be rejected")
	}
}

var timeNow = time.Now
