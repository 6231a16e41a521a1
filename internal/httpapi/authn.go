package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
)

const (
	authHeader        = "Authorization"
	callerTokenHeader = "X-Caller-Token"
	bearer            = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// withCaller verifies the caller assertion, if any, and copies the address it vouches for
// together with the bearer token into the request context. Requests without an assertion
// run with no caller, so address-bound capabilities fail for them.
// A malformed Authorization header is left for the handlers that need a capability.
func (a *API) withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if assertion := strings.TrimSpace(r.Header.Get(callerTokenHeader)); assertion != "" {
			if a.signer == nil {
				respondServiceError(w, r, auth.ErrMissingSecret)
				return
			}
			addr, err := a.signer.ParseCaller(assertion)
			if err != nil {
				respondServiceError(w, r, err)
				return
			}
			ctx = auth.ContextWithCaller(ctx, addr)
		}
		if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			ctx = auth.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// presented decodes the capability carried by the request's bearer token.
func (a *API) presented(r *http.Request) (*capability.Capability, error) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	if a.signer == nil {
		return nil, auth.ErrMissingSecret
	}
	return a.signer.Parse(token)
}

func callerOf(r *http.Request) capability.Address {
	caller, _ := auth.CallerFromContext(r.Context())
	return caller
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
