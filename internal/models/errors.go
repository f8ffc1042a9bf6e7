package models

import "errors"

// ErrNotFound marks lookups for rows that do not exist. Callers match
// it with errors.Is to map storage misses onto API 404s.
var ErrNotFound = errors.New("not found")
