package models

import "time"

// DefaultFailedAttemptsLimit applies to accounts without an assigned policy
const DefaultFailedAttemptsLimit = 5

// Policy is a per-account lockout configuration. Accounts reference policies,
// they never own them.
type Policy struct {
	ID                  int64     `json:"id"`
	FailedAttemptsLimit int       `json:"failed_attempts_limit"`
	MFARequired         bool      `json:"mfa_required"`
	GeoFencingEnabled   bool      `json:"geo_fencing_enabled"`
	IsDefault           bool      `json:"is_default"`
	CreatedAt           time.Time `json:"created_at"`
}

// DefaultPolicy returns the implicit policy used when none is assigned
func DefaultPolicy() *Policy {
	return &Policy{
		FailedAttemptsLimit: DefaultFailedAttemptsLimit,
		IsDefault:           true,
	}
}
