// Package trust computes the session phase from a persisted context, the trust
// policy and the current time. Everything here is pure.
package trust

import (
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
)

// Reason explains why Evaluate picked a phase
type Reason string

const (
	ReasonNoSession      Reason = "no_session"
	ReasonSessionExpired Reason = "session_expired"
	ReasonMFARequired    Reason = "mfa_required"
	ReasonMFAStale       Reason = "mfa_stale"
	ReasonTrusted        Reason = "trusted"
)

// Evaluation is the outcome of a phase computation
type Evaluation struct {
	Phase  models.Phase
	Reason Reason
}

// EvaluatePhase returns the phase for the context at now. Recovery is decided
// by the caller before this is consulted; the result is never RecoveryMode.
func EvaluatePhase(sc models.SessionContext, policy models.TrustPolicy, now time.Time) models.Phase {
	return Evaluate(sc, policy, now).Phase
}

// Evaluate computes the phase along with the reason for it.
//
// The absolute timeout is checked before the MFA window so an expired session
// fully logs out instead of demoting to a re-challenge. Absent or future
// timestamps never count as fresh. Both expiries are inclusive.
func Evaluate(sc models.SessionContext, policy models.TrustPolicy, now time.Time) Evaluation {
	if !sc.Authenticated || sc.AccessToken == "" {
		return Evaluation{Phase: models.PhaseLoggedOut, Reason: ReasonNoSession}
	}

	if expired(sc.AuthTime, policy.SessionTimeout, now) {
		return Evaluation{Phase: models.PhaseLoggedOut, Reason: ReasonSessionExpired}
	}

	if sc.MFAFactorID == "" {
		return Evaluation{Phase: models.PhaseAuthenticated, Reason: ReasonTrusted}
	}

	if sc.MFAVerifiedAt == nil || sc.MFASubject != sc.UserIdentity {
		return Evaluation{Phase: models.PhaseAwaitingMFA, Reason: ReasonMFARequired}
	}

	if expired(sc.MFAVerifiedAt, policy.MFATrustWindow, now) {
		return Evaluation{Phase: models.PhaseAwaitingMFA, Reason: ReasonMFAStale}
	}

	return Evaluation{Phase: models.PhaseAuthenticated, Reason: ReasonTrusted}
}

// MFARemaining returns how long the current MFA trust lasts, zero when none.
func MFARemaining(sc models.SessionContext, policy models.TrustPolicy, now time.Time) time.Duration {
	if sc.MFAVerifiedAt == nil || sc.MFAVerifiedAt.After(now) {
		return 0
	}
	left := policy.MFATrustWindow - now.Sub(*sc.MFAVerifiedAt)
	if left < 0 {
		return 0
	}
	return left
}

// RetainedTrustValid reports whether MFA trust kept across a logout may be
// reused by identity logging in at now.
func RetainedTrustValid(sc models.SessionContext, policy models.TrustPolicy, identity string, now time.Time) bool {
	if sc.MFASubject == "" || sc.MFASubject != identity {
		return false
	}
	return !expired(sc.MFAVerifiedAt, policy.MFATrustWindow, now)
}

func expired(at *time.Time, window time.Duration, now time.Time) bool {
	if at == nil || at.IsZero() || at.After(now) {
		return true
	}
	return now.Sub(*at) >= window
}
