// Package recovery handles password-recovery links. A recovery signal is
// exclusive: while present, normal login and MFA phases are not evaluated.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/models"
	pkgauth "github.com/BradenHooton/medpassport/pkg/auth"
	"github.com/cenkalti/backoff/v4"
)

// Query parameters carrying the signal
const (
	ParamType = "type"
	ParamCode = "code"
)

// Detect derives the recovery signal from inbound request parameters. Both
// the recovery marker and a non-empty code are required.
func Detect(params url.Values) models.RecoverySignal {
	kind := params.Get(ParamType)
	code := strings.TrimSpace(params.Get(ParamCode))
	if kind != models.RecoverySignalKind || code == "" {
		return models.RecoverySignal{}
	}
	return models.RecoverySignal{
		Present:      true,
		Kind:         kind,
		ExchangeCode: code,
	}
}

// HashCode returns the digest under which a spent code is remembered
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Config holds recovery handler configuration
type Config struct {
	MinPasswordLength int
	UpdateAttempts    int           // attempts of the password update step, including the first
	RetryInterval     time.Duration // initial backoff between update attempts
}

// DefaultConfig returns the handler defaults
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: pkgauth.DefaultMinPasswordLen,
		UpdateAttempts:    3,
		RetryInterval:     200 * time.Millisecond,
	}
}

// Handler runs the two-step reset protocol: exchange the one-time code for a
// temporary provider session, then submit the new password with it.
type Handler struct {
	provider identity.Provider
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates a new recovery handler
func NewHandler(provider identity.Provider, cfg Config, logger *slog.Logger) *Handler {
	if cfg.UpdateAttempts <= 0 {
		cfg.UpdateAttempts = 1
	}
	return &Handler{provider: provider, cfg: cfg, logger: logger}
}

// Outcome reports what happened to the code during Reset
type Outcome struct {
	// CodeSpent is true once the code was submitted to the provider. A spent
	// code is never submitted again; the user has to request a fresh link.
	CodeSpent bool
}

// Reset validates the new password, exchanges the code exactly once and
// updates the password. Only the update step is retried, and only on
// provider unavailability.
func (h *Handler) Reset(ctx context.Context, sc models.SessionContext, sig models.RecoverySignal, newPassword, confirm string) (Outcome, error) {
	if !sig.Present {
		return Outcome{}, models.ErrIllegalEvent
	}

	if sc.SpentRecoveryCode != "" && sc.SpentRecoveryCode == HashCode(sig.ExchangeCode) {
		h.logger.InfoContext(ctx, "recovery code already spent")
		return Outcome{CodeSpent: true}, models.ErrRecoveryCodeInvalid
	}

	if err := pkgauth.ValidateNewPassword(newPassword, confirm, h.cfg.MinPasswordLength); err != nil {
		return Outcome{}, err
	}

	exchanged, err := h.provider.ExchangeRecoveryCode(ctx, sig.ExchangeCode)
	if err != nil {
		h.logger.WarnContext(ctx, "recovery code exchange failed", slog.Any("error", err))
		return Outcome{CodeSpent: true}, err
	}

	if err := h.updatePassword(ctx, exchanged.TempToken, newPassword); err != nil {
		h.logger.WarnContext(ctx, "password update failed after exchange", slog.Any("error", err))
		return Outcome{CodeSpent: true}, err
	}

	h.logger.InfoContext(ctx, "password reset via recovery link")
	return Outcome{CodeSpent: true}, nil
}

func (h *Handler) updatePassword(ctx context.Context, tempToken, newPassword string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.cfg.RetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := h.provider.UpdatePassword(ctx, tempToken, newPassword)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrProviderUnavailable) {
			return backoff.Permanent(err)
		}
		h.logger.InfoContext(ctx, "password update unavailable, retrying", slog.Int("attempt", attempt))
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(h.cfg.UpdateAttempts-1)), ctx))
}
