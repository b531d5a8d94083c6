package planner

import "errors"

// ErrConfiguration marks caller-correctable configuration problems:
// a zero weight sum, a missing bias curve, a malformed plan config.
// Never retried internally; always surfaced to the caller.
var ErrConfiguration = errors.New("configuration error")
