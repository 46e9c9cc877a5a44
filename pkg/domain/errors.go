package domain

import "errors"

// Common domain errors
var (
	ErrTroveNotFound   = errors.New("trove not found")
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrPolicyConflict  = errors.New("conflicting policy ordering constraints")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrNewsEntryAbsent = errors.New("NEWS has no entry for this version")
)
