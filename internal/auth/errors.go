package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
	// ErrInvalidCaller indicates a caller assertion failed signature, audience or expiry checks.
	ErrInvalidCaller = errors.New("auth: invalid caller assertion")
)
