package models

import "time"

// Ledger detail values. Callers only ever see generic messages; these are
// what operators see when reading the ledger.
const (
	DetailFailedLogin          = "Failed login"
	DetailBlockedTooMany       = "Blocked: too many failures"
	DetailBlockedInvalidChain  = "Blocked: invalid chain token"
	DetailDeniedRiskPolicy     = "Denied: risk policy"
	DetailReAuthUnauthorized   = "Re-auth: unauthorized"
	DetailReAuthPasswordNeeded = "Re-auth: password required"
	DetailReAuthInvalid        = "Re-auth: invalid credentials"
	DetailInvalidMFACode       = "Invalid MFA code"
	DetailInvalidAPIKey        = "Invalid API key"
)

// AttemptRecord is one row of the append-only attempt ledger. Rows are never
// updated once written.
type AttemptRecord struct {
	ID                  int64     `json:"id" db:"id"`
	ClientIP            string    `json:"client_ip" db:"client_ip"`
	Timestamp           time.Time `json:"timestamp" db:"timestamp"`
	CumulativeFailCount int       `json:"cumulative_fail_count" db:"cumulative_fail_count"`
	Detail              string    `json:"detail" db:"detail"`
}

// AttemptFilter narrows ledger listings for operator forensics
type AttemptFilter struct {
	ClientIPs []string
	Since     *time.Time
	Limit     int
}
