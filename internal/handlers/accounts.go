package handlers

import (
	"net/http"

	"github.com/BradenHooton/medpassport/internal/models"
	pkghttp "github.com/BradenHooton/medpassport/pkg/http"
)

// SignUp registers an account. The user signs in separately afterwards.
// @Router /accounts/signup [post]
func (h *SessionHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.SignUp{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}, http.StatusCreated)
}

// RequestPasswordReset always answers 202 unless the provider is down,
// whether or not the address has an account.
// @Router /accounts/password-reset [post]
func (h *SessionHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.RequestPasswordReset{Email: req.Email}, http.StatusAccepted)
}
