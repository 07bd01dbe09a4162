package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// JWTManager issues and validates HS256 access tokens.
type JWTManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewJWTManager creates a new JWT manager.
// secret must be at least 32 characters for HS256 security.
func NewJWTManager(secret string, issuer string, accessTTL time.Duration) *JWTManager {
	return &JWTManager{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// accessClaims extends the registered claims with the tenant scope.
type accessClaims struct {
	jwt.RegisteredClaims
	Org string `json:"org"`
	App string `json:"app,omitempty"`
}

// GenerateAccessToken signs a token with the actor as subject and the
// tenant in the org claim.
func (m *JWTManager) GenerateAccessToken(id Identity) (string, error) {
	if !ids.IsValid(id.ActorID) || !ids.IsValid(id.TenantID) {
		return "", fmt.Errorf("identity requires valid actor and tenant ids")
	}
	now := m.now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ActorID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Org: id.TenantID,
		App: id.App,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a token and returns the
// identity it carries.
func (m *JWTManager) ValidateAccessToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	if !ids.IsValid(claims.Subject) {
		return Identity{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	if !ids.IsValid(claims.Org) {
		return Identity{}, fmt.Errorf("invalid org claim %q", claims.Org)
	}

	return Identity{ActorID: claims.Subject, TenantID: claims.Org, App: claims.App}, nil
}
