package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("test-secret"), "test-issuer")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignAndParse(t *testing.T) {
	s := newTestSigner(t)
	orig, err := capability.New("Writer", "counter-1", capability.Ptr(capability.Address("0xw")),
		capability.Ptr[uint64](1000), capability.Ptr[uint64](2000))
	if err != nil {
		t.Fatal(err)
	}
	token, err := s.Sign(orig)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.ID() != orig.ID() || got.Role() != "Writer" || got.TargetKey() != "counter-1" {
		t.Fatalf("unexpected capability: %s", got)
	}
	if addr, ok := got.IssuedTo(); !ok || addr != "0xw" {
		t.Fatalf("issued_to lost: %q %v", addr, ok)
	}
	from, okFrom := got.ValidFrom()
	until, okUntil := got.ValidUntil()
	if !okFrom || !okUntil || from != 1000 || until != 2000 {
		t.Fatalf("window lost: %d..%d", from, until)
	}
}

func TestParseUnboundCapability(t *testing.T) {
	s := newTestSigner(t)
	orig, _ := capability.New("Admin", "counter-1", nil, nil, nil)
	token, err := s.Sign(orig)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasTimeConstraint() {
		t.Fatal("unexpected time constraint")
	}
	if _, ok := got.IssuedTo(); ok {
		t.Fatal("unexpected address binding")
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	s := newTestSigner(t)
	orig, _ := capability.New("Admin", "counter-1", nil, nil, nil)
	token, _ := s.Sign(orig)

	other, _ := NewSigner([]byte("other-secret"), "test-issuer")
	foreign, _ := other.Sign(orig)
	wrongIssuer, _ := NewSigner([]byte("test-secret"), "someone-else")
	misissued, _ := wrongIssuer.Sign(orig)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "Admin", RegisteredClaims: jwt.RegisteredClaims{
		Issuer: "test-issuer", Subject: "counter-1", ID: orig.ID(),
	}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	badWindow := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:       "Admin",
		ValidFrom:  capability.Ptr[uint64](5),
		ValidUntil: capability.Ptr[uint64](1),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "test-issuer", Subject: "counter-1", ID: orig.ID(),
		},
	})
	inverted, _ := badWindow.SignedString([]byte("test-secret"))

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"tampered":     token[:len(token)-2] + "xx",
		"foreign":      foreign,
		"issuer":       misissued,
		"alg none":     unsigned,
		"bad window":   inverted,
		"trailing dot": strings.TrimSuffix(token, token[strings.LastIndex(token, "."):]),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Parse(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner([]byte("  "), ""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	s, err := NewSigner([]byte("x"), "")
	if err != nil {
		t.Fatal(err)
	}
	if s.issuer != DefaultIssuer {
		t.Fatalf("expected default issuer, got %q", s.issuer)
	}
}

func TestCallerContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatal("unexpected caller")
	}
	if _, ok := CallerFromContext(ContextWithCaller(ctx, "  ")); ok {
		t.Fatal("blank caller must not be stored")
	}
	caller, ok := CallerFromContext(ContextWithCaller(ctx, " 0xabc "))
	if !ok || caller != "0xabc" {
		t.Fatalf("unexpected caller %q", caller)
	}
	tok, ok := TokenFromContext(ContextWithToken(ctx, "t"))
	if !ok || tok != "t" {
		t.Fatalf("unexpected token %q", tok)
	}
}
