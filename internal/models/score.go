package models

const (
	ScoreStatusOK      = "ok"
	ScoreStatusBlocked = "blocked"
)

// ScoreInput is a single authentication outcome observation
type ScoreInput struct {
	ClientIP              string
	Success               bool
	AccountID             string
	AccountFailLimit      int // 0 means the system default
	UsedSessionCredential bool
	Reason                string // ledger detail for a non-blocking failure, empty means DetailFailedLogin
}

// ScoreResult is the verdict returned for an observation
type ScoreResult struct {
	Status          string `json:"status"`
	FailsLastWindow int    `json:"fails_last_window"`
}

// Blocked reports whether the verdict is a block
func (r *ScoreResult) Blocked() bool {
	return r != nil && r.Status == ScoreStatusBlocked
}
