package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the session credential claims issued on login
type TokenClaims struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// LoginResult is returned to the caller on a successful login
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// MFAEnrollment is returned once when an account enrolls a TOTP device
type MFAEnrollment struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qr_code_url"`
}
