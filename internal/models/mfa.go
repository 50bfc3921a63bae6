package models

import (
	"time"
)

// Factor types and statuses
const (
	FactorTypeTOTP = "totp"

	FactorStatusUnverified = "unverified"
	FactorStatusVerified   = "verified"
)

// Factor represents an enrolled MFA credential
type Factor struct {
	ID                  string
	UserID              string
	Name                string
	Type                string
	TOTPSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	TOTPSecretNonce     []byte // GCM nonce (12 bytes)
	LastUsedAt          *time.Time
	CreatedAt           time.Time
	VerifiedAt          *time.Time
}

// Status reports the factor status as exposed by the provider
func (f *Factor) Status() string {
	if f.VerifiedAt != nil {
		return FactorStatusVerified
	}
	return FactorStatusUnverified
}

// IsVerified checks if the factor has completed its first challenge
func (f *Factor) IsVerified() bool {
	return f.VerifiedAt != nil
}

// Challenge is a single-use MFA challenge issued against a factor
type Challenge struct {
	ID         string
	FactorID   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// RecoveryCode is a one-time password reset code. Only its hash is stored.
type RecoveryCode struct {
	ID         string
	UserID     string
	CodeHash   string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}
