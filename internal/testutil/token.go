// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signingKey is only used to produce well-formed tokens; clients never verify.
var signingKey = []byte("ragone-test-key")

// Token returns a signed JWT for username expiring at exp.
func Token(t testing.TB, username string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString(signingKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// ValidToken returns a token that expires in an hour.
func ValidToken(t testing.TB, username string) string {
	t.Helper()
	return Token(t, username, time.Now().Add(time.Hour))
}
