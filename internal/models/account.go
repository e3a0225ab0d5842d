package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is a login identity protected by the gateway.
// TOTPSecret is AES-GCM encrypted and stays nil until the account enrolls.
type Account struct {
	ID             string
	Username       string
	PasswordHash   string
	Role           string
	PolicyID       *int64
	TOTPSecret     []byte
	TOTPNonce      []byte
	TOTPLastUsedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MFAEnrolled reports whether a TOTP secret is stored for the account
func (a *Account) MFAEnrolled() bool {
	return a != nil && len(a.TOTPSecret) > 0 && len(a.TOTPNonce) > 0
}
