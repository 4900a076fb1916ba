package domain

import "errors"

var (
	// ErrValidation marks a malformed request rejected before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrResolution marks a request that validated but could not be resolved
	// to a template or audience.
	ErrResolution = errors.New("resolution error")
	// ErrNoRecipients marks a build that resolved to an empty audience.
	ErrNoRecipients = errors.New("no target users found")
	// ErrNotFound marks a missing record in one of the backing stores.
	ErrNotFound = errors.New("not found")
)
