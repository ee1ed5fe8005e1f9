package inventory

import "errors"

// ErrSheetUnavailable wraps any sheet access failure so callers can treat
// read and commit problems uniformly.
var ErrSheetUnavailable = errors.New("comment sheet unavailable")
