package devserver

import (
	"errors"
	"time"

	"github.com/civicpulse/engine/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	UserID string    `json:"uid"`
	Role   user.Role `json:"role"`
	jwt.RegisteredClaims
}

// tokenManager mints and checks the HS256 bearer tokens the stub hands out.
type tokenManager struct {
	secret []byte
	ttl    time.Duration
}

func newTokenManager(secret string, ttl time.Duration) *tokenManager {
	return &tokenManager{secret: []byte(secret), ttl: ttl}
}

func (t *tokenManager) mint(u user.User) (string, error) {
	now := time.Now().UTC()

	c := claims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

var errBadToken = errors.New("invalid token")

func (t *tokenManager) check(raw string) (claims, error) {
	var c claims

	tok, err := jwt.ParseWithClaims(raw, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadToken
		}
		return t.secret, nil
	})
	if err != nil || !tok.Valid {
		return claims{}, errBadToken
	}

	return c, nil
}
