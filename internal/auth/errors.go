package auth

import "errors"

var (
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrMissingSecret      = errors.New("auth: secret is not configured")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnauthorized       = errors.New("auth: unauthorized")
)
