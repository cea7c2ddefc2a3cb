// Package auth issues and checks the API keys clients send in the apikey and
// Authorization headers. A key is an HS256 JWT carrying a role claim.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer   = "bugstored"
	RoleAnon = "anon"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrKeyExpired = errors.New("api key expired")
)

var now = time.Now

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueKey signs a key for role valid for ttl.
func IssueKey(secret []byte, role string, ttl time.Duration) (string, error) {
	t := now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(t),
			ExpiresAt: jwt.NewNumericDate(t.Add(ttl)),
		},
		Role: role,
	})
	return token.SignedString(secret)
}

// ValidateKey parses key and returns its claims.
func ValidateKey(key string, secret []byte) (*Claims, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(key, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrKeyExpired
		}
		return nil, ErrInvalidKey
	}
	if !token.Valid || claims.Role == "" {
		return nil, ErrInvalidKey
	}
	return claims, nil
}
