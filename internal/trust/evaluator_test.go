package trust

import (
	"testing"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func testPolicy() models.TrustPolicy {
	return models.TrustPolicy{
		SessionTimeout:    30 * time.Minute,
		MFATrustWindow:    2 * time.Hour,
		MinPasswordLength: 6,
	}
}

func authenticatedContext() models.SessionContext {
	return models.SessionContext{
		Authenticated: true,
		UserIdentity:  "dr@hospital.org",
		AccessToken:   "token",
		AuthTime:      ptr(testNow.Add(-5 * time.Minute)),
		MFAVerifiedAt: ptr(testNow.Add(-5 * time.Minute)),
		MFAFactorID:   "factor-1",
		MFASubject:    "dr@hospital.org",
	}
}

func TestEvaluate_EmptyContextIsLoggedOut(t *testing.T) {
	eval := Evaluate(models.SessionContext{}, testPolicy(), testNow)
	assert.Equal(t, models.PhaseLoggedOut, eval.Phase)
	assert.Equal(t, ReasonNoSession, eval.Reason)
}

func TestEvaluate_AuthenticatedWithoutTokenIsLoggedOut(t *testing.T) {
	sc := authenticatedContext()
	sc.AccessToken = ""

	assert.Equal(t, models.PhaseLoggedOut, EvaluatePhase(sc, testPolicy(), testNow))
}

func TestEvaluate_FreshMFAIsAuthenticated(t *testing.T) {
	eval := Evaluate(authenticatedContext(), testPolicy(), testNow)
	assert.Equal(t, models.PhaseAuthenticated, eval.Phase)
	assert.Equal(t, ReasonTrusted, eval.Reason)
}

func TestEvaluate_NoFactorSkipsMFA(t *testing.T) {
	sc := authenticatedContext()
	sc.MFAFactorID = ""
	sc.MFAVerifiedAt = nil

	assert.Equal(t, models.PhaseAuthenticated, EvaluatePhase(sc, testPolicy(), testNow))
}

func TestEvaluate_TimeoutTakesPrecedenceOverMFA(t *testing.T) {
	tests := []struct {
		name     string
		verified *time.Time
	}{
		{"fresh mfa", ptr(testNow.Add(-time.Minute))},
		{"stale mfa", ptr(testNow.Add(-3 * time.Hour))},
		{"no mfa", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := authenticatedContext()
			sc.AuthTime = ptr(testNow.Add(-31 * time.Minute))
			sc.MFAVerifiedAt = tt.verified

			eval := Evaluate(sc, testPolicy(), testNow)
			assert.Equal(t, models.PhaseLoggedOut, eval.Phase)
			assert.Equal(t, ReasonSessionExpired, eval.Reason)
		})
	}
}

func TestEvaluate_MissingAuthTimeIsExpired(t *testing.T) {
	sc := authenticatedContext()
	sc.AuthTime = nil

	assert.Equal(t, models.PhaseLoggedOut, EvaluatePhase(sc, testPolicy(), testNow))

	sc.AuthTime = &time.Time{}
	assert.Equal(t, models.PhaseLoggedOut, EvaluatePhase(sc, testPolicy(), testNow))
}

func TestEvaluate_MissingMFATimestampRequiresChallenge(t *testing.T) {
	sc := authenticatedContext()
	sc.MFAVerifiedAt = nil

	eval := Evaluate(sc, testPolicy(), testNow)
	assert.Equal(t, models.PhaseAwaitingMFA, eval.Phase)
	assert.Equal(t, ReasonMFARequired, eval.Reason)
}

func TestEvaluate_MFAFromAnotherIdentityRequiresChallenge(t *testing.T) {
	sc := authenticatedContext()
	sc.MFASubject = "other@hospital.org"

	assert.Equal(t, models.PhaseAwaitingMFA, EvaluatePhase(sc, testPolicy(), testNow))
}

func TestEvaluate_FutureMFATimestampIsNotTrusted(t *testing.T) {
	sc := authenticatedContext()
	sc.MFAVerifiedAt = ptr(testNow.Add(time.Minute))

	eval := Evaluate(sc, testPolicy(), testNow)
	assert.Equal(t, models.PhaseAwaitingMFA, eval.Phase)
	assert.Equal(t, ReasonMFAStale, eval.Reason)
}

func TestEvaluate_StaleMFADemotesToAwaitingMFA(t *testing.T) {
	policy := testPolicy()
	policy.MFATrustWindow = 7200 * time.Second
	policy.SessionTimeout = 3 * time.Hour

	sc := authenticatedContext()
	sc.AuthTime = ptr(testNow.Add(-2*time.Hour - 30*time.Minute))
	sc.MFAVerifiedAt = ptr(testNow.Add(-7201 * time.Second))

	eval := Evaluate(sc, policy, testNow)
	assert.Equal(t, models.PhaseAwaitingMFA, eval.Phase)
	assert.Equal(t, ReasonMFAStale, eval.Reason)
}

func TestEvaluate_BoundariesAreInclusive(t *testing.T) {
	policy := testPolicy()
	policy.SessionTimeout = 4 * time.Hour

	sc := authenticatedContext()
	sc.AuthTime = ptr(testNow.Add(-time.Hour))
	sc.MFAVerifiedAt = ptr(testNow.Add(-policy.MFATrustWindow))
	assert.Equal(t, models.PhaseAwaitingMFA, EvaluatePhase(sc, policy, testNow))

	sc.MFAVerifiedAt = ptr(testNow.Add(-policy.MFATrustWindow + time.Nanosecond))
	assert.Equal(t, models.PhaseAuthenticated, EvaluatePhase(sc, policy, testNow))

	sc.AuthTime = ptr(testNow.Add(-policy.SessionTimeout))
	assert.Equal(t, models.PhaseLoggedOut, EvaluatePhase(sc, policy, testNow))
}

func TestEvaluate_IsPure(t *testing.T) {
	contexts := []models.SessionContext{
		{},
		authenticatedContext(),
		func() models.SessionContext {
			sc := authenticatedContext()
			sc.MFAVerifiedAt = ptr(testNow.Add(-3 * time.Hour))
			return sc
		}(),
	}

	for _, sc := range contexts {
		before := sc.Clone()
		first := Evaluate(sc, testPolicy(), testNow)
		second := Evaluate(sc, testPolicy(), testNow)
		assert.Equal(t, first, second)
		assert.Equal(t, before, sc)
	}
}

func TestMFARemaining(t *testing.T) {
	sc := authenticatedContext()
	sc.MFAVerifiedAt = ptr(testNow.Add(-90 * time.Minute))
	assert.Equal(t, 30*time.Minute, MFARemaining(sc, testPolicy(), testNow))

	sc.MFAVerifiedAt = ptr(testNow.Add(-3 * time.Hour))
	assert.Zero(t, MFARemaining(sc, testPolicy(), testNow))

	sc.MFAVerifiedAt = nil
	assert.Zero(t, MFARemaining(sc, testPolicy(), testNow))
}

func TestRetainedTrustValid(t *testing.T) {
	sc := models.SessionContext{
		MFAVerifiedAt: ptr(testNow.Add(-10 * time.Minute)),
		MFASubject:    "dr@hospital.org",
	}

	assert.True(t, RetainedTrustValid(sc, testPolicy(), "dr@hospital.org", testNow))
	assert.False(t, RetainedTrustValid(sc, testPolicy(), "nurse@hospital.org", testNow))
	assert.False(t, RetainedTrustValid(sc, testPolicy(), "dr@hospital.org", testNow.Add(3*time.Hour)))
	assert.False(t, RetainedTrustValid(models.SessionContext{}, testPolicy(), "", testNow))
}
