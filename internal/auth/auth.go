// Package auth turns a presented credential into the client id that owns
// pending transactions.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chungtau/ledger-payments/internal/domain"
)

// Resolver maps a credential to a client id. Failures carry AUTHENTICATION_FAILED.
type Resolver interface {
	ResolveClientID(ctx context.Context, credential string) (string, error)
}

// JWTResolver accepts HS256 tokens whose subject is the client id.
type JWTResolver struct {
	secret []byte
	now    func() time.Time
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), now: time.Now}
}

func (r *JWTResolver) ResolveClientID(_ context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", domain.NewError(domain.CodeAuthenticationFailed, "credential required")
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.NewError(domain.CodeAuthenticationFailed, "token expired")
		}
		return "", domain.NewError(domain.CodeAuthenticationFailed, "invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", domain.NewError(domain.CodeAuthenticationFailed, "token missing subject claim")
	}
	return sub, nil
}

// IssueToken signs an HS256 token for clientID valid for ttl.
func IssueToken(secret, clientID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Static resolves fixed credentials. Used in tests.
type Static map[string]string

func (s Static) ResolveClientID(_ context.Context, credential string) (string, error) {
	if id, ok := s[credential]; ok {
		return id, nil
	}
	return "", domain.NewError(domain.CodeAuthenticationFailed, "unknown credential")
}
