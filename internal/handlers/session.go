package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/BradenHooton/medpassport/internal/session"
	pkghttp "github.com/BradenHooton/medpassport/pkg/http"
)

// SessionStore persists one session context per browser session
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (models.SessionContext, error)
	Save(ctx context.Context, sessionID string, sc models.SessionContext) error
}

// Stepper runs one state machine invocation
type Stepper interface {
	Step(ctx context.Context, in session.Input) session.Output
}

// SessionHandler adapts HTTP requests to state machine invocations. Each
// request loads the context once, steps once and writes back at most once.
type SessionHandler struct {
	machine Stepper
	store   SessionStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(machine Stepper, store SessionStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		machine: machine,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the clock passed to the state machine
func (h *SessionHandler) WithClock(now func() time.Time) *SessionHandler {
	h.now = now
	return h
}

func (h *SessionHandler) run(w http.ResponseWriter, r *http.Request, ev models.Event, successStatus int) {
	ctx := r.Context()

	sessionID := auth.GetSessionID(r)
	if sessionID == "" {
		h.logger.ErrorContext(ctx, "request reached session handler without session id")
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	sc, err := h.store.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.logger.ErrorContext(ctx, "failed to load session context", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Session store unavailable")
		return
	}

	out := h.machine.Step(ctx, session.Input{
		Context: sc,
		Now:     h.now(),
		Params:  r.URL.Query(),
		Event:   ev,
	})

	if out.Changed {
		if err := h.store.Save(ctx, sessionID, out.Context); err != nil {
			h.logger.ErrorContext(ctx, "failed to save session context",
				slog.String("event", models.EventName(ev)),
				slog.Any("error", err))
			pkghttp.WriteServiceUnavailable(w, "Session store unavailable")
			return
		}
	}

	if out.Err != nil {
		status, resp := pkghttp.FromError(out.Err)
		resp.Phase = string(out.Phase)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "session event failed",
				slog.String("event", models.EventName(ev)),
				slog.Any("error", out.Err))
		}
		pkghttp.WriteErrorResponse(w, status, resp)
		return
	}

	pkghttp.WriteJSON(w, successStatus, toSessionResponse(out))
}

func toSessionResponse(out session.Output) SessionResponse {
	resp := SessionResponse{
		Phase:               string(out.Phase),
		Reason:              string(out.Reason),
		ClearRecoverySignal: out.ClearRecoverySignal,
		Factors:             out.Factors,
		Enrollment:          out.Enrollment,
	}

	// identity and countdown only render on the dashboard
	if out.Phase == models.PhaseAuthenticated {
		resp.UserEmail = out.Context.UserIdentity
		resp.MFAEnrolled = out.Context.MFAFactorID != ""
		if resp.MFAEnrolled {
			secs := int64(out.MFARemaining / time.Second)
			resp.MFARemainingSeconds = &secs
		}
	}
	return resp
}

// Tick renders the current phase, applying expiry and recovery links
// @Router /session [get]
func (h *SessionHandler) Tick(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, http.StatusOK)
}

// Login handles the credential step
// @Router /session/login [post]
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.Login{Email: req.Email, Password: req.Password}, http.StatusOK)
}

// VerifyMFA submits a TOTP code
// @Router /session/mfa/verify [post]
func (h *SessionHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.VerifyMFA{Code: req.Code}, http.StatusOK)
}

// Cancel leaves the MFA gate or recovery mode
// @Router /session/cancel [post]
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.Cancel{}, http.StatusOK)
}

// @Router /session/logout [post]
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.Logout{}, http.StatusOK)
}

// ResetPassword completes a recovery link. The link parameters stay in the
// query string and are read by the state machine.
// @Router /session/recovery/reset [post]
func (h *SessionHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.ResetPassword{NewPassword: req.NewPassword, ConfirmPassword: req.ConfirmPassword}, http.StatusOK)
}
