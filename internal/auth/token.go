// Package auth carries capabilities across process boundaries as signed bearer tokens and
// tracks the invoking principal in request contexts.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// DefaultIssuer is used when NewSigner receives an empty issuer.
const DefaultIssuer = "product-core"

// Claims is the JWT form of a capability. The token ID is the capability id and the
// subject is its target key.
type Claims struct {
	Role       string  `json:"role"`
	IssuedTo   *string `json:"issued_to,omitempty"`
	ValidFrom  *uint64 `json:"valid_from,omitempty"`
	ValidUntil *uint64 `json:"valid_until,omitempty"`
	jwt.RegisteredClaims
}

// Signer encodes capabilities as HS256 tokens. A token proves that this service handed the
// capability out; whether it is still issued and inside its window is decided by the role
// map at check time, so tokens carry no expiry of their own.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner returns a signer for secret.
func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, ErrMissingSecret
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Signer{secret: append([]byte(nil), secret...), issuer: issuer, now: time.Now}, nil
}

// Sign encodes c.
func (s *Signer) Sign(c *capability.Capability) (string, error) {
	if c == nil {
		return "", errors.New("auth: capability is required")
	}
	claims := Claims{
		Role: c.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  c.TargetKey(),
			ID:       c.ID(),
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
		},
	}
	if addr, ok := c.IssuedTo(); ok {
		v := string(addr)
		claims.IssuedTo = &v
	}
	if v, ok := c.ValidFrom(); ok {
		claims.ValidFrom = &v
	}
	if v, ok := c.ValidUntil(); ok {
		claims.ValidUntil = &v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies token and rebuilds the capability it encodes.
func (s *Signer) Parse(token string) (*capability.Capability, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing capability claims", ErrInvalidToken)
	}

	var issuedTo *capability.Address
	if claims.IssuedTo != nil {
		addr := capability.Address(*claims.IssuedTo)
		issuedTo = &addr
	}
	c, err := capability.Restore(claims.ID, claims.Role, claims.Subject, issuedTo, claims.ValidFrom, claims.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return c, nil
}
