// Package credential persists the bearer credential and the cached user
// record across process starts.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/raphaelgruber/ragone/internal/models"
)

// Fixed storage keys. Both are written and removed together.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrCorrupt indicates a stored value could not be decoded.
var ErrCorrupt = errors.New("stored credential is corrupt")

// Stored is the pair kept by a Store.
type Stored struct {
	Token string
	User  models.User
}

// Store persists a credential and its cached user.
// Save is atomic from the caller's point of view: after it returns either both
// values are visible or neither is. Clear is idempotent.
type Store interface {
	Save(ctx context.Context, token string, user models.User) error
	// Load returns ok=false when nothing is stored. It never touches the network.
	Load(ctx context.Context) (stored Stored, ok bool, err error)
	Clear(ctx context.Context) error
	// Token returns the stored credential alone, for attaching to requests.
	Token(ctx context.Context) (string, bool)
}

// IsValid reports whether the credential's embedded expiry lies after now.
// The signature is not verified (the client holds no key). Any decode
// failure, and a missing exp claim, count as invalid.
func IsValid(token string, now time.Time) bool {
	exp, err := Expiry(token)
	if err != nil {
		return false
	}
	return exp.After(now)
}

// Expiry decodes the exp claim of a JWT credential.
func Expiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, errors.New("empty credential")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("credential has no expiry")
	}
	return exp.Time, nil
}
