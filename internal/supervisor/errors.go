package supervisor

import "errors"

var (
	// ErrNotFound means no campaign exists under the given identifier.
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidState means the operation does not apply to the campaign's
	// current lifecycle state.
	ErrInvalidState = errors.New("campaign in invalid state for operation")

	// ErrSheetInUse means another active campaign already drives the
	// requested comment sheet.
	ErrSheetInUse = errors.New("comment sheet already driven by another campaign")

	// ErrValidation means the create parameters are incomplete.
	ErrValidation = errors.New("invalid campaign parameters")
)
