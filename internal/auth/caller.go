package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// CallerAudience marks caller assertions so they cannot be replayed as capability tokens
// and the other way round.
const CallerAudience = "product-core/caller"

// DefaultCallerTTL bounds assertions minted without an explicit lifetime.
const DefaultCallerTTL = 15 * time.Minute

// SignCaller asserts that the bearer acts as addr until ttl has passed. Assertions are
// minted by whoever authenticated the principal; the service only verifies them.
func (s *Signer) SignCaller(addr capability.Address, ttl time.Duration) (string, error) {
	addr = capability.Address(strings.TrimSpace(string(addr)))
	if addr == "" {
		return "", errors.New("auth: caller address is required")
	}
	if ttl <= 0 {
		ttl = DefaultCallerTTL
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   string(addr),
		Audience:  jwt.ClaimStrings{CallerAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign caller: %w", err)
	}
	return signed, nil
}

// ParseCaller verifies a caller assertion and returns the address it vouches for.
func (s *Signer) ParseCaller(token string) (capability.Address, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidCaller
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(CallerAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCaller, err)
	}
	addr := capability.Address(strings.TrimSpace(claims.Subject))
	if addr == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidCaller)
	}
	return addr, nil
}
