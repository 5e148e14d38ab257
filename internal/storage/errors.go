package storage

import "errors"

// ErrNotFound is returned by point lookups for keys that do not exist.
// Callers treat it as an empty result, not a failure.
var ErrNotFound = errors.New("not found")
