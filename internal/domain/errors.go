package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("access denied")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrSlotContested        = errors.New("another booking for this slot is already selected")
	ErrSlotUnavailable      = errors.New("slot is not available")
)
