package models

import (
	"time"
)

// User is a principal known to the local identity provider.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time // tokens issued before this instant are rejected
}
