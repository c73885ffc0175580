package identity

import "errors"

var (
	// ErrInvalidCredentials is the uniform outcome for every failed
	// validation or lookup during login. Callers never learn which specific
	// check failed, so codes and accounts cannot be enumerated.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: conflict")
	ErrInvalidInput = errors.New("identity: invalid input")

	// ErrUnavailable indicates the backend call failed or timed out.
	ErrUnavailable = errors.New("identity: backend unavailable")
)
