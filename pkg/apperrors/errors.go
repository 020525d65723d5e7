package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidThreshold  = errors.New("similarity threshold must be in (0, 1]")
	ErrInvalidLookback   = errors.New("lookback months must be positive")
	ErrEmptyDescription  = errors.New("description is empty or unresolvable")
	ErrManualMappingLock = errors.New("mapping is manually curated and cannot be changed automatically")
)
