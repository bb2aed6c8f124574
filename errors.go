package voxpipe

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("voxpipe: no store configured")
	ErrStoreClosed = errors.New("voxpipe: store closed")
	ErrConflict    = errors.New("voxpipe: concurrent update conflict")

	// Not found errors.
	ErrJobNotFound  = errors.New("voxpipe: job not found")
	ErrBlobNotFound = errors.New("voxpipe: blob not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("voxpipe: job already exists")

	// State errors.
	ErrInvalidTransition = errors.New("voxpipe: invalid stage transition")
	ErrPartOutOfRange    = errors.New("voxpipe: part index out of range")
	ErrNoPartition       = errors.New("voxpipe: partition not recorded")
	ErrTerminalStage     = errors.New("voxpipe: job is in a terminal stage")
	ErrNotRetryable      = errors.New("voxpipe: job is not in a failure stage")

	// Poller errors.
	ErrStillProcessing = errors.New("voxpipe: job still processing after attempt budget")
)
