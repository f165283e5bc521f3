package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can react without string matching.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a unique constraint rejected the write (benign race; the
//     caller re-resolves against the actual current owner)
//   - ErrInvalidState: an invariant the caller relies on does not hold; this
//     is a correctness bug upstream, not a runtime condition to paper over
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
