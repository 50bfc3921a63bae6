package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types issued by the local identity provider
const (
	TokenTypeAccess   = "access"
	TokenTypeRecovery = "recovery"
)

// TokenClaims are the JWT claims carried by provider-issued tokens
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// RevokedToken is a signed-out token kept until its natural expiry
type RevokedToken struct {
	JTI       string
	UserID    string
	TokenType string
	Reason    string
	ExpiresAt time.Time
	RevokedAt time.Time
}
