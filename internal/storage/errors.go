package storage

import "github.com/pkg/errors"

// errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageConflict    = errors.New("storage conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrReorgConflict      = errors.New("reorg conflict")
)
