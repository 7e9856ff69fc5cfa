package types

import "errors"

// Sentinel errors shared across services. Handlers map these onto HTTP
// statuses; services wrap them with context via fmt.Errorf("...: %w", err).
var (
	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrInvalidInput    = errors.New("invalid input")

	// Role mutation guard rejections.
	ErrSelfDemotion = errors.New("admins cannot demote themselves")
	ErrSelfDelete   = errors.New("admins cannot delete their own account")
	ErrLastAdmin    = errors.New("cannot demote the last remaining admin")
)
