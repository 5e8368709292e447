package auth

import "errors"

var (
	// ErrInvalidToken is returned when a credential matches no known token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the matched token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when the matched token has been revoked.
	ErrTokenRevoked = errors.New("token revoked")
)
