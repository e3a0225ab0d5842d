package models

import (
	"fmt"
	"strings"
)

// DegradedMode decides what happens when a backing store cannot be reached
type DegradedMode string

const (
	DegradedModeOpen   DegradedMode = "open"
	DegradedModeClosed DegradedMode = "closed"
)

// ParseDegradedMode parses a POLICY_FAIL_MODE value. Empty input means open.
func ParseDegradedMode(value string) (DegradedMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(DegradedModeOpen):
		return DegradedModeOpen, nil
	case string(DegradedModeClosed):
		return DegradedModeClosed, nil
	default:
		return "", fmt.Errorf("invalid fail mode %q: must be open or closed", value)
	}
}

// AllowOnUnavailable reports whether traffic passes while the store is down
func (m DegradedMode) AllowOnUnavailable() bool {
	return m != DegradedModeClosed
}

func (m DegradedMode) String() string {
	if m == "" {
		return string(DegradedModeOpen)
	}
	return string(m)
}
