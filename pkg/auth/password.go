package auth

import (
	"fmt"
	"unicode/utf8"

	"github.com/BradenHooton/medpassport/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost            = 12
	DefaultMinPasswordLen = 6
	MaxPasswordLen        = 72 // bcrypt ignores anything past 72 bytes
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "invalid password: " + e.Errors[0]
}

// Unwrap lets callers match models.ErrPasswordPolicy with errors.Is
func (e *PasswordValidationError) Unwrap() error {
	return models.ErrPasswordPolicy
}

// ValidateNewPassword checks a password chosen at sign-up or reset: both
// entries must match and the length must be within bounds.
func ValidateNewPassword(password, confirm string, minLen int) error {
	if minLen <= 0 {
		minLen = DefaultMinPasswordLen
	}

	errs := make([]string, 0)

	if password != confirm {
		errs = append(errs, "passwords do not match")
	}
	if utf8.RuneCountInString(password) < minLen {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", minLen))
	}
	if len(password) > MaxPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	if len(errs) > 0 {
		return &PasswordValidationError{Errors: errs}
	}
	return nil
}

// HashPassword hashes with BcryptCost
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

// HashPasswordWithCost hashes with an explicit bcrypt cost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
