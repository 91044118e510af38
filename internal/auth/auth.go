// Package auth resolves credentials into stable user identities. It covers
// password verification, session-token issuance and checking, and the
// black-box hook for external identity providers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for malformed, expired, or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier turns an external identity-provider token into the provider's
// stable uid. Implementations are external collaborators; tests use stubs.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (uid string, err error)
}

// Issuer creates and validates session tokens binding a request to a user
// identity.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer signing with the given secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored bcrypt hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken creates a signed session token whose subject is the user id.
func (i *Issuer) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks a session token and returns the user id it was issued
// for.
func (i *Issuer) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return i.secret, nil
		})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
