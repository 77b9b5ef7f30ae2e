package jwtauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"certledger/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultClockSkew = 30 * time.Second

// Claims carries the requester address in sub and its roles.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
	clockSkew  time.Duration
	now        func() time.Time
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithClockSkew(skew time.Duration) Option {
	return func(a *Authenticator) {
		a.clockSkew = skew
	}
}

func NewAuthenticator(signingKey, issuer string, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errors.New("jwt signing key is required")
	}
	auth := &Authenticator{
		signingKey: []byte(signingKey),
		issuer:     strings.TrimSpace(issuer),
		clockSkew:  defaultClockSkew,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(auth)
	}
	return auth, nil
}

func (a *Authenticator) Authenticate(_ context.Context, bearerToken string) (domain.Requester, error) {
	if a == nil {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	tokenString := strings.TrimSpace(bearerToken)
	if tokenString == "" {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.clockSkew),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	return requesterFromClaims(claims)
}

// Issue mints a token for address; used by operators and tests.
func (a *Authenticator) Issue(address string, roles []domain.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", errors.New("address is required")
	}
	now := a.now()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: names,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(a.signingKey)
}

func requesterFromClaims(claims *Claims) (domain.Requester, error) {
	address := strings.TrimSpace(claims.Subject)
	if address == "" {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	return domain.Requester{Address: address, Roles: parseRoles(claims.Roles)}, nil
}

// parseRoles drops unknown role names and duplicates.
func parseRoles(raw []string) []domain.Role {
	seen := make(map[domain.Role]struct{}, len(raw))
	out := make([]domain.Role, 0, len(raw))
	for _, value := range raw {
		role, ok := domain.ParseRole(value)
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
