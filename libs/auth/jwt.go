package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies a caller of the agentdesk APIs. Sub is the agent id;
// Role is one of agent, broker or admin.
type Claims struct {
	Sub         string `json:"sub"`
	BrokerageID string `json:"brokerage_id"`
	Role        string `json:"role"`
	Exp         int64  `json:"exp"`
	Iat         int64  `json:"iat"`
}

// Valid implements jwt.Claims. Tokens without a subject are never accepted.
func (c Claims) Valid() error {
	return c.validAt(time.Now())
}

func (c Claims) validAt(now time.Time) error {
	if c.Sub == "" {
		return errors.New("token has no subject")
	}
	if c.Exp > 0 && now.Unix() > c.Exp {
		return errors.New("token expired")
	}
	return nil
}

// SignHS256 issues a token with the shared secret. Used by tests and local
// tooling; production tokens come from the identity provider.
func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseHS256(token, secret string) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodHS256.Alg()}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func ParseRS256(token string, key *rsa.PublicKey) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodRS256.Alg()}, func(*jwt.Token) (any, error) {
		return key, nil
	})
}

func parse(token string, methods []string, keyFunc jwt.Keyfunc) (*Claims, error) {
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithValidMethods(methods)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
