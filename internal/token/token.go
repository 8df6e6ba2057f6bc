// Package token issues and verifies the signed, stateless claim tokens that
// identify a caller between requests.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
)

// TTL is how long an issued token stays valid.
const TTL = 24 * time.Hour

var (
	ErrMissingToken     = apierr.ErrMissingToken
	ErrInvalidSignature = apierr.ErrInvalidSignature
	ErrExpired          = apierr.ErrExpired
	ErrEmptySecret      = errors.New("token signing secret is empty")
)

// Claims is the claim set carried inside a token.
type Claims struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Service signs tokens with a shared HS256 secret.
type Service struct {
	secret []byte
	clock  clockwork.Clock
	parser *jwt.Parser
}

// NewService returns a token service. A nil clock means wall time.
func NewService(secret []byte, clock clockwork.Clock) (*Service, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{secret: secret, clock: clock}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	return s, nil
}

// Issue signs a claim set for a, valid from now until now+TTL.
func (s *Service) Issue(a entity.Account) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		ID:      a.ID,
		Name:    a.Name,
		Phone:   a.Phone,
		IsAdmin: a.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and validity window of raw and returns its claims.
func (s *Service) Verify(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSignature)
	}
	return claims, nil
}

// Extract returns the bearer token from an Authorization header value.
func Extract(header string) (string, error) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrMissingToken
	}
	return value, nil
}
