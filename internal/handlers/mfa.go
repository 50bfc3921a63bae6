package handlers

import (
	"net/http"

	"github.com/BradenHooton/medpassport/internal/models"
	pkghttp "github.com/BradenHooton/medpassport/pkg/http"
	"github.com/go-chi/chi/v5"
)

// ListFactors returns the enrolled factors of the signed-in user
// @Router /mfa/factors [get]
func (h *SessionHandler) ListFactors(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.ListFactors{}, http.StatusOK)
}

// EnrollFactor starts TOTP enrollment. The response carries the QR code and
// secret once; the session moves to the MFA gate until a code is verified.
// @Router /mfa/factors [post]
func (h *SessionHandler) EnrollFactor(w http.ResponseWriter, r *http.Request) {
	var req EnrollFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.run(w, r, models.EnrollFactor{Name: req.Name}, http.StatusCreated)
}

// @Router /mfa/factors/{id} [delete]
func (h *SessionHandler) UnenrollFactor(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.UnenrollFactor{FactorID: chi.URLParam(r, "id")}, http.StatusOK)
}
