package priorate

import "errors"

// ErrInvalidConfig is returned (optionally wrapped) from Builder.Build when
// the configuration fails validation: a non-positive rate or timeout, an
// unsupported window, or a missing SECOND-level rate.
var ErrInvalidConfig = errors.New("priorate: invalid config")

// ErrTimeout is returned from Acquire when the deadline elapsed before the
// caller was admitted. The caller's priority is deregistered before this
// error surfaces.
var ErrTimeout = errors.New("priorate: acquire timed out")

// ErrCancelled is returned from Acquire when the supplied context is
// cancelled while the caller is waiting. The caller's priority is
// deregistered before this error surfaces.
var ErrCancelled = errors.New("priorate: acquire cancelled")
