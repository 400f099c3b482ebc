package longhaul

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("longhaul: no store configured")
	ErrStoreClosed = errors.New("longhaul: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("longhaul: job not found")

	// Conflict errors.
	ErrConflict         = errors.New("longhaul: stored status does not match expected status")
	ErrJobAlreadyExists = errors.New("longhaul: job already exists")

	// State errors.
	ErrInvalidTransition = errors.New("longhaul: invalid status transition")

	// Lifecycle errors.
	ErrCoordinatorStopped = errors.New("longhaul: coordinator stopped; create a new one to restart")

	// Registry errors.
	ErrUnknownJobName = errors.New("longhaul: no job function registered for name")
)
