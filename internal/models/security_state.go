package models

import "time"

// SecurityState is the system-wide enforcement switch and the current chain
// token. CurrentChain is nil if and only if Enabled is false.
type SecurityState struct {
	Enabled      bool      `json:"enabled"`
	CurrentChain *string   `json:"current_chain"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot alias the stored chain value
func (s SecurityState) Clone() SecurityState {
	if s.CurrentChain != nil {
		chain := *s.CurrentChain
		s.CurrentChain = &chain
	}
	return s
}
