package auth

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const issuer = "crypto-trader"

const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
)

// DefaultScopes are granted when a token is issued without explicit scopes.
var DefaultScopes = []string{ScopeOrdersRead, ScopeOrdersWrite}

type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject valid for ttl from now. With no
// scopes it grants DefaultScopes.
func IssueToken(subject string, secret []byte, ttl time.Duration, now time.Time, scopes ...string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	claims := Claims{
		Scopes: slices.Clone(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
