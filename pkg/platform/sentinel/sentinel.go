package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors.
//
//   - ErrNotFound: the row or key does not exist
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: the entity exists but its lifecycle forbids the operation
//     (a forgotten subject key, for example)
//   - ErrUnavailable: a backing service did not answer in time
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
