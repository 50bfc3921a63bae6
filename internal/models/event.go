package models

// Event is a caller-supplied action applied to the session. A nil Event is a
// plain tick: the phase is evaluated and expiry side effects are applied.
type Event interface {
	eventName() string
}

// EventName returns the wire name of an event, "tick" for nil
func EventName(ev Event) string {
	if ev == nil {
		return "tick"
	}
	return ev.eventName()
}

type Login struct {
	Email    string
	Password string
}

type VerifyMFA struct {
	Code string
}

type Cancel struct{}

type Logout struct{}

type ResetPassword struct {
	NewPassword     string
	ConfirmPassword string
}

type SignUp struct {
	Email           string
	Password        string
	ConfirmPassword string
}

type RequestPasswordReset struct {
	Email string
}

type ListFactors struct{}

type EnrollFactor struct {
	Name string
}

type UnenrollFactor struct {
	FactorID string
}

func (Login) eventName() string                { return "login" }
func (VerifyMFA) eventName() string            { return "verify_mfa" }
func (Cancel) eventName() string               { return "cancel" }
func (Logout) eventName() string               { return "logout" }
func (ResetPassword) eventName() string        { return "reset_password" }
func (SignUp) eventName() string               { return "sign_up" }
func (RequestPasswordReset) eventName() string { return "request_password_reset" }
func (ListFactors) eventName() string          { return "list_factors" }
func (EnrollFactor) eventName() string         { return "enroll_factor" }
func (UnenrollFactor) eventName() string       { return "unenroll_factor" }
