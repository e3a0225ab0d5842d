package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Attempt-defense errors
	ErrValidation             = errors.New("validation failed")
	ErrInvalidChainToken      = errors.New("invalid chain token")
	ErrRateLimited            = errors.New("too many attempts")
	ErrBlocked                = errors.New("client blocked: too many failures")
	ErrPolicyStoreUnavailable = errors.New("policy store unavailable")

	// Credential and MFA errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMFARequired        = errors.New("mfa code required")
	ErrMFAUnavailable     = errors.New("mfa is not configured")
)
