package storage

import "errors"

// ErrUnavailable is returned by the raw backends when the backing
// storage cannot be reached. The Guarded wrapper translates it into a
// silent no-op, so the session layer never observes it.
var ErrUnavailable = errors.New("storage: unavailable")
