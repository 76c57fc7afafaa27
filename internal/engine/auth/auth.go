package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ForbiddenError indicates the actor may not perform an action on an entity.
type ForbiddenError struct {
	Action string
	Entity string
}

func (e ForbiddenError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("not allowed to %s", e.Action)
	}
	return fmt.Sprintf("not allowed to %s %s", e.Action, e.Entity)
}

// DefaultTokenTTL is used by SignToken when ttl is zero.
const DefaultTokenTTL = 24 * time.Hour

// Claims carried by DigiDex bearer tokens. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// SignToken issues an HS256 token for userID.
func SignToken(secret, userID, email string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "digidex",
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates token and returns its claims.
func ParseToken(token, secret string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim required")
	}
	return claims, nil
}
