package eliminate

import "errors"

// ErrCannotContinue marks a branch-local, recoverable failure: this
// exploration path is infeasible. It is always wrapped with context
// at the point it's raised and is caught only at the nearest boundary
// that has a fallback.
var ErrCannotContinue = errors.New("eliminate: cannot continue")

// ErrStuckInLoop is returned when Run exceeds 50 passes with no
// explicit step budget. It signals a bug in the pass itself, not a
// recoverable condition.
var ErrStuckInLoop = errors.New("eliminate: stuck in a loop, please report")
