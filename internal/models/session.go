package models

import (
	"log/slog"
	"time"
)

// Phase is the point of the session trust state machine an invocation renders.
// It is always recomputed and never persisted.
type Phase string

const (
	PhaseLoggedOut     Phase = "logged_out"
	PhaseAwaitingMFA   Phase = "awaiting_mfa"
	PhaseAuthenticated Phase = "authenticated"
	PhaseRecoveryMode  Phase = "recovery_mode"
)

// SessionContext is the only state that survives between invocations.
type SessionContext struct {
	Authenticated bool       `json:"authenticated"`
	UserIdentity  string     `json:"user_identity,omitempty"`
	AccessToken   string     `json:"access_token,omitempty"`
	AuthTime      *time.Time `json:"auth_time,omitempty"`
	MFAVerifiedAt *time.Time `json:"mfa_verified_at,omitempty"`
	MFAFactorID   string     `json:"mfa_factor_id,omitempty"`

	// MFASubject is the identity that completed MFAVerifiedAt. Retained trust
	// only applies to a later login by the same identity.
	MFASubject string `json:"mfa_subject,omitempty"`

	// SpentRecoveryCode holds the hash of a recovery code whose exchange failed.
	SpentRecoveryCode string `json:"spent_recovery_code,omitempty"`

	Version int64 `json:"version"`
}

// Clear resets the context to its empty value, keeping the version counter.
func (c *SessionContext) Clear() {
	*c = SessionContext{Version: c.Version}
}

// SignOut drops the authenticated principal. When retainMFA is true the MFA
// trust markers survive so a quick re-login by the same identity skips the
// re-challenge.
func (c *SessionContext) SignOut(retainMFA bool) {
	if !retainMFA {
		c.Clear()
		return
	}
	c.Authenticated = false
	c.AccessToken = ""
	c.UserIdentity = ""
	c.MFAFactorID = ""
}

// Clone returns a deep copy so callers can mutate without aliasing timestamps.
func (c SessionContext) Clone() SessionContext {
	out := c
	if c.AuthTime != nil {
		t := *c.AuthTime
		out.AuthTime = &t
	}
	if c.MFAVerifiedAt != nil {
		t := *c.MFAVerifiedAt
		out.MFAVerifiedAt = &t
	}
	return out
}

// LogValue keeps the access token out of logs.
func (c SessionContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Bool("authenticated", c.Authenticated),
		slog.Bool("has_token", c.AccessToken != ""),
		slog.Bool("mfa_enrolled", c.MFAFactorID != ""),
		slog.Int64("version", c.Version),
	}
	if c.AuthTime != nil {
		attrs = append(attrs, slog.Time("auth_time", *c.AuthTime))
	}
	if c.MFAVerifiedAt != nil {
		attrs = append(attrs, slog.Time("mfa_verified_at", *c.MFAVerifiedAt))
	}
	return slog.GroupValue(attrs...)
}

// RecoverySignalKind is the only accepted value of the inbound "type" parameter.
const RecoverySignalKind = "recovery"

// RecoverySignal is derived from inbound request parameters on every invocation.
type RecoverySignal struct {
	Present      bool
	Kind         string
	ExchangeCode string
}

// TrustPolicy is the immutable trust configuration.
type TrustPolicy struct {
	SessionTimeout    time.Duration // absolute cap on login age
	MFATrustWindow    time.Duration // rolling MFA re-challenge interval
	ClearMFAOnLogout  bool
	MinPasswordLength int
}

// DefaultTrustPolicy returns the portal defaults
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		SessionTimeout:    30 * time.Minute,
		MFATrustWindow:    2 * time.Hour,
		ClearMFAOnLogout:  false,
		MinPasswordLength: 6,
	}
}
