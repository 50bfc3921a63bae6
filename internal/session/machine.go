// Package session implements the session trust state machine. Each call to
// Step is one stateless invocation: the caller loads the persisted context,
// Step computes the phase, applies at most one event and returns the context
// to write back.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/BradenHooton/medpassport/internal/recovery"
	"github.com/BradenHooton/medpassport/internal/trust"
	pkgauth "github.com/BradenHooton/medpassport/pkg/auth"
	pkglogger "github.com/BradenHooton/medpassport/pkg/logger"
)

const defaultFactorName = "Authenticator app"

// Config holds state machine configuration
type Config struct {
	Policy           models.TrustPolicy
	ResetRedirectURL string // target embedded in password reset links
}

// Machine is the session trust state machine. It holds no per-session state.
type Machine struct {
	provider identity.Provider
	recovery *recovery.Handler
	cfg      Config
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewMachine creates a new state machine
func NewMachine(provider identity.Provider, recoveryHandler *recovery.Handler, cfg Config, logger *slog.Logger, audit *pkglogger.AuditLogger) *Machine {
	return &Machine{
		provider: provider,
		recovery: recoveryHandler,
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
	}
}

// Policy returns the trust policy the machine evaluates against
func (m *Machine) Policy() models.TrustPolicy {
	return m.cfg.Policy
}

// Input is everything one invocation knows
type Input struct {
	Context models.SessionContext
	Now     time.Time
	Params  url.Values
	Event   models.Event
}

// Output is the result of one invocation
type Output struct {
	Context models.SessionContext
	Phase   models.Phase
	Reason  trust.Reason
	Err     error

	// Changed is true when Context must be written back
	Changed bool

	// ClearRecoverySignal tells the presentation layer to drop the recovery
	// parameters so a refresh does not re-enter recovery
	ClearRecoverySignal bool

	MFARemaining time.Duration
	Factors      []identity.Factor
	Enrollment   *identity.Enrollment
}

// Step runs one invocation.
func (m *Machine) Step(ctx context.Context, in Input) Output {
	sc := in.Context.Clone()
	normalize(&sc)

	var out Output
	if sig := recovery.Detect(in.Params); sig.Present {
		out = m.stepRecovery(ctx, &sc, sig, in)
	} else {
		out = m.stepNormal(ctx, &sc, in)
	}

	if !reflect.DeepEqual(sc, in.Context) {
		sc.Version = in.Context.Version + 1
		out.Changed = true
	}
	out.Context = sc

	if out.Phase == models.PhaseAuthenticated {
		out.MFARemaining = trust.MFARemaining(sc, m.cfg.Policy, in.Now)
	}

	if out.Err != nil && errors.Is(out.Err, models.ErrIllegalEvent) {
		m.logger.WarnContext(ctx, "illegal event for phase",
			slog.String("event", models.EventName(in.Event)),
			slog.String("phase", string(out.Phase)))
	}

	return out
}

// normalize restores the token invariants on a context read from storage:
// no token without authentication, no authentication without a token.
func normalize(sc *models.SessionContext) {
	if sc.Authenticated && sc.AccessToken == "" {
		sc.Clear()
		return
	}
	if !sc.Authenticated && sc.AccessToken != "" {
		sc.AccessToken = ""
	}
}

func (m *Machine) stepRecovery(ctx context.Context, sc *models.SessionContext, sig models.RecoverySignal, in Input) Output {
	out := Output{Phase: models.PhaseRecoveryMode}

	switch ev := in.Event.(type) {
	case nil:
	case models.ResetPassword:
		email := sc.UserIdentity
		result, err := m.recovery.Reset(ctx, *sc, sig, ev.NewPassword, ev.ConfirmPassword)
		if result.CodeSpent {
			sc.SpentRecoveryCode = recovery.HashCode(sig.ExchangeCode)
		}
		if err != nil {
			m.audit.LogPasswordChange(ctx, email, false, failureReason(err))
			out.Err = err
			return out
		}
		m.audit.LogPasswordChange(ctx, email, true, "")
		m.endRecovery(ctx, sc)
		out.Phase = models.PhaseLoggedOut
		out.ClearRecoverySignal = true
	case models.Cancel:
		m.endRecovery(ctx, sc)
		out.Phase = models.PhaseLoggedOut
		out.ClearRecoverySignal = true
	default:
		out.Err = illegal(in.Event, out.Phase)
	}

	return out
}

// endRecovery leaves recovery mode. The user always logs in fresh afterwards.
func (m *Machine) endRecovery(ctx context.Context, sc *models.SessionContext) {
	if sc.AccessToken != "" {
		m.signOutBestEffort(ctx, sc.AccessToken)
	}
	spent := sc.SpentRecoveryCode
	sc.Clear()
	sc.SpentRecoveryCode = spent
}

func (m *Machine) stepNormal(ctx context.Context, sc *models.SessionContext, in Input) Output {
	eval := trust.Evaluate(*sc, m.cfg.Policy, in.Now)

	switch eval.Reason {
	case trust.ReasonSessionExpired:
		m.audit.LogSessionEvent(ctx, "session_expired", sc.UserIdentity, nil)
		sc.Clear()
	case trust.ReasonMFAStale:
		m.logger.DebugContext(ctx, "mfa trust window elapsed, re-challenge required")
	}

	out := Output{Phase: eval.Phase, Reason: eval.Reason}
	if in.Event == nil {
		return out
	}

	var err error
	switch eval.Phase {
	case models.PhaseLoggedOut:
		err = m.applyLoggedOut(ctx, sc, in)
	case models.PhaseAwaitingMFA:
		err = m.applyAwaitingMFA(ctx, sc, in)
	case models.PhaseAuthenticated:
		err = m.applyAuthenticated(ctx, sc, in, &out)
	}
	out.Err = err

	if errors.Is(err, models.ErrSessionRevoked) {
		m.audit.LogSessionEvent(ctx, "session_revoked", sc.UserIdentity, nil)
		sc.Clear()
	}

	eval = trust.Evaluate(*sc, m.cfg.Policy, in.Now)
	out.Phase = eval.Phase
	out.Reason = eval.Reason
	return out
}

func (m *Machine) applyLoggedOut(ctx context.Context, sc *models.SessionContext, in Input) error {
	switch ev := in.Event.(type) {
	case models.Login:
		return m.login(ctx, sc, ev, in.Now)
	case models.SignUp:
		return m.signUp(ctx, ev)
	case models.RequestPasswordReset:
		return m.requestPasswordReset(ctx, ev)
	default:
		return illegal(in.Event, models.PhaseLoggedOut)
	}
}

func (m *Machine) applyAwaitingMFA(ctx context.Context, sc *models.SessionContext, in Input) error {
	switch ev := in.Event.(type) {
	case models.VerifyMFA:
		return m.verifyMFA(ctx, sc, ev, in.Now)
	case models.Cancel:
		m.signOutBestEffort(ctx, sc.AccessToken)
		m.audit.LogSessionEvent(ctx, "mfa_cancelled", sc.UserIdentity, nil)
		sc.Clear()
		return nil
	default:
		return illegal(in.Event, models.PhaseAwaitingMFA)
	}
}

func (m *Machine) applyAuthenticated(ctx context.Context, sc *models.SessionContext, in Input, out *Output) error {
	switch ev := in.Event.(type) {
	case models.Logout:
		m.signOutBestEffort(ctx, sc.AccessToken)
		m.audit.LogSessionEvent(ctx, "logout", sc.UserIdentity, nil)
		sc.SignOut(!m.cfg.Policy.ClearMFAOnLogout)
		return nil
	case models.ListFactors:
		factors, err := m.provider.ListFactors(ctx, sc.AccessToken)
		if err != nil {
			return err
		}
		out.Factors = factors
		return nil
	case models.EnrollFactor:
		return m.enrollFactor(ctx, sc, ev, out)
	case models.UnenrollFactor:
		return m.unenrollFactor(ctx, sc, ev)
	default:
		return illegal(in.Event, models.PhaseAuthenticated)
	}
}

func (m *Machine) login(ctx context.Context, sc *models.SessionContext, ev models.Login, now time.Time) error {
	email := normalizeEmail(ev.Email)
	if email == "" || ev.Password == "" {
		return models.ErrInvalidCredentials
	}

	res, err := m.provider.SignIn(ctx, email, ev.Password)
	if err != nil {
		m.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			Email:         email,
			FailureReason: failureReason(err),
		})
		return err
	}

	factors, err := m.provider.ListFactors(ctx, res.AccessToken)
	if err != nil {
		// Never keep a token whose MFA requirement is unknown.
		m.signOutBestEffort(ctx, res.AccessToken)
		m.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			Email:         email,
			FailureReason: "factor_lookup_failed",
		})
		if errors.Is(err, models.ErrSessionRevoked) {
			return fmt.Errorf("listing factors after sign in: %w", models.ErrProviderUnavailable)
		}
		return err
	}

	retained := trust.RetainedTrustValid(*sc, m.cfg.Policy, email, now)

	next := models.SessionContext{
		Authenticated:     true,
		UserIdentity:      email,
		AccessToken:       res.AccessToken,
		AuthTime:          &now,
		SpentRecoveryCode: sc.SpentRecoveryCode,
		Version:           sc.Version,
	}
	if factor, ok := identity.FirstVerifiedTOTP(factors); ok {
		next.MFAFactorID = factor.ID
		if retained {
			verifiedAt := *sc.MFAVerifiedAt
			next.MFAVerifiedAt = &verifiedAt
			next.MFASubject = email
		}
	}
	*sc = next

	m.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		Email:     email,
		Success:   true,
		Metadata: map[string]string{
			"mfa_enrolled":   fmt.Sprintf("%t", next.MFAFactorID != ""),
			"retained_trust": fmt.Sprintf("%t", next.MFAVerifiedAt != nil),
		},
	})
	return nil
}

func (m *Machine) verifyMFA(ctx context.Context, sc *models.SessionContext, ev models.VerifyMFA, now time.Time) error {
	code := strings.TrimSpace(ev.Code)
	if code == "" {
		return models.ErrMFACodeRejected
	}

	challenge, err := m.provider.ChallengeFactor(ctx, sc.AccessToken, sc.MFAFactorID)
	if err != nil {
		return err
	}

	if err := m.provider.VerifyFactor(ctx, sc.AccessToken, sc.MFAFactorID, challenge.ID, code); err != nil {
		m.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "mfa_failed",
			Email:         sc.UserIdentity,
			FailureReason: failureReason(err),
		})
		return err
	}

	sc.MFAVerifiedAt = &now
	sc.MFASubject = sc.UserIdentity

	m.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "mfa_success",
		Email:     sc.UserIdentity,
		Success:   true,
	})
	return nil
}

func (m *Machine) signUp(ctx context.Context, ev models.SignUp) error {
	email := normalizeEmail(ev.Email)
	if email == "" {
		return models.ErrInvalidCredentials
	}
	if err := pkgauth.ValidateNewPassword(ev.Password, ev.ConfirmPassword, m.cfg.Policy.MinPasswordLength); err != nil {
		return err
	}

	res, err := m.provider.SignUp(ctx, email, ev.Password)
	if err != nil {
		return err
	}
	if res.AlreadyExists {
		return models.ErrAccountExists
	}

	m.audit.LogSessionEvent(ctx, "sign_up", email, nil)
	return nil
}

// requestPasswordReset reports success for unknown addresses so the endpoint
// cannot be used to enumerate accounts. Only an outage is surfaced.
func (m *Machine) requestPasswordReset(ctx context.Context, ev models.RequestPasswordReset) error {
	email := normalizeEmail(ev.Email)
	if email == "" {
		return nil
	}

	err := m.provider.RequestPasswordReset(ctx, email, m.cfg.ResetRedirectURL)
	if err == nil {
		m.audit.LogSessionEvent(ctx, "password_reset_requested", email, nil)
		return nil
	}
	if errors.Is(err, models.ErrProviderUnavailable) {
		return err
	}

	m.logger.InfoContext(ctx, "password reset request not fulfilled", slog.Any("error", err))
	return nil
}

// enrollFactor starts TOTP enrollment. The new factor becomes the session's
// factor immediately and has to be verified before the dashboard opens again.
func (m *Machine) enrollFactor(ctx context.Context, sc *models.SessionContext, ev models.EnrollFactor, out *Output) error {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		name = defaultFactorName
	}

	enrollment, err := m.provider.EnrollFactor(ctx, sc.AccessToken, models.FactorTypeTOTP, name)
	if err != nil {
		return err
	}

	sc.MFAFactorID = enrollment.FactorID
	sc.MFAVerifiedAt = nil
	sc.MFASubject = ""
	out.Enrollment = enrollment

	m.audit.LogSessionEvent(ctx, "mfa_enrolled", sc.UserIdentity, map[string]string{"factor_id": enrollment.FactorID})
	return nil
}

func (m *Machine) unenrollFactor(ctx context.Context, sc *models.SessionContext, ev models.UnenrollFactor) error {
	if ev.FactorID == "" {
		return models.ErrNotFound
	}

	if err := m.provider.UnenrollFactor(ctx, sc.AccessToken, ev.FactorID); err != nil {
		return err
	}

	if sc.MFAFactorID == ev.FactorID {
		sc.MFAFactorID = ""
	}

	m.audit.LogSessionEvent(ctx, "mfa_unenrolled", sc.UserIdentity, map[string]string{"factor_id": ev.FactorID})
	return nil
}

// signOutBestEffort revokes a token at the provider; the session proceeds
// regardless of the outcome.
func (m *Machine) signOutBestEffort(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := m.provider.SignOut(ctx, token); err != nil {
		m.logger.WarnContext(ctx, "provider sign out failed", slog.Any("error", err))
	}
}

func illegal(ev models.Event, phase models.Phase) error {
	return fmt.Errorf("%w: %s during %s", models.ErrIllegalEvent, models.EventName(ev), phase)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, models.ErrMFACodeRejected):
		return "mfa_code_rejected"
	case errors.Is(err, models.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, models.ErrRecoveryCodeInvalid):
		return "recovery_code_invalid"
	case errors.Is(err, models.ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, models.ErrSessionRevoked):
		return "session_revoked"
	default:
		return "internal_error"
	}
}
