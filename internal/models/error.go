package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Session trust errors. Provider adapters map every failure onto one of these.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMFACodeRejected     = errors.New("mfa code rejected")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrRecoveryCodeInvalid = errors.New("recovery code invalid or expired")
	ErrPasswordPolicy      = errors.New("password policy violation")
	ErrIllegalEvent        = errors.New("event not allowed in current phase")

	// Account state errors
	ErrAccountExists  = errors.New("account already exists")
	ErrSessionRevoked = errors.New("provider session revoked")
)
