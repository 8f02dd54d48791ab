package annotator

import "errors"

var (
	// ErrStoreUnavailable wraps every persistence failure.
	ErrStoreUnavailable = errors.New("annotator: store unavailable")

	// ErrNotFound is returned for ids with no stored or shown record.
	ErrNotFound = errors.New("annotator: annotation not found")

	// ErrNoSession is returned for unknown page ids.
	ErrNoSession = errors.New("annotator: no such page session")

	// ErrInvalidMode is returned by SetMode for unknown modes.
	ErrInvalidMode = errors.New("annotator: invalid mode")

	// ErrNoOpener is returned by OpenPage when no browser is configured.
	ErrNoOpener = errors.New("annotator: no page opener configured")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("annotator: session closed")
)
