package session

import "errors"

// Error kinds, spec §7 closed set (the subset owned by the session state
// manager; controller-level kinds like SessionBusy live in internal/collab).
var (
	ErrSessionNotFound  = errors.New("session: not found")
	ErrSessionFull      = errors.New("session: full")
	ErrPermissionDenied = errors.New("session: permission denied")
	ErrValidationFailed = errors.New("session: validation failed")
	ErrInvalidSnapshot  = errors.New("session: invalid snapshot")
)
