package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrSecretRequired is returned when signing or verifying without a secret.
	ErrSecretRequired = errors.New("auth: signing secret required")

	// ErrTokenInvalid is returned for malformed, tampered or incomplete tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("auth: token has expired")
)
