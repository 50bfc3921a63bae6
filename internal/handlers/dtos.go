package handlers

import (
	"github.com/BradenHooton/medpassport/internal/identity"
)

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// VerifyMFARequest carries the six-digit code from the authenticator app
type VerifyMFARequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordRequest is submitted from the recovery screen. Length and
// match rules are enforced by the password policy, not here.
type ResetPasswordRequest struct {
	NewPassword     string `json:"new_password" validate:"max=1024"`
	ConfirmPassword string `json:"confirm_password" validate:"max=1024"`
}

type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,max=1024"`
	ConfirmPassword string `json:"confirm_password" validate:"required,max=1024"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type EnrollFactorRequest struct {
	Name string `json:"name" validate:"max=64"`
}

// SessionResponse is the rendered phase of one invocation
type SessionResponse struct {
	Phase               string               `json:"phase"`
	Reason              string               `json:"reason,omitempty"`
	UserEmail           string               `json:"user_email,omitempty"`
	MFAEnrolled         bool                 `json:"mfa_enrolled"`
	MFARemainingSeconds *int64               `json:"mfa_remaining_seconds,omitempty"`
	ClearRecoverySignal bool                 `json:"clear_recovery_signal,omitempty"`
	Factors             []identity.Factor    `json:"factors,omitempty"`
	Enrollment          *identity.Enrollment `json:"enrollment,omitempty"`
}
