package anchor

import "errors"

// Resolution errors.
var (
	// ErrPathNotFound indicates that a path segment has no matching child in
	// the current document. The DOM structure changed since the path was encoded.
	ErrPathNotFound = errors.New("anchor: path not found")

	// ErrUnresolvedAnchor indicates that an anchor could not be turned back into
	// a range: an endpoint did not decode, or the offsets or ordering are invalid.
	ErrUnresolvedAnchor = errors.New("anchor: unresolved anchor")

	// ErrMalformedPath indicates stored data that does not match the path grammar.
	ErrMalformedPath = errors.New("anchor: malformed path")
)

// Encoding and range errors.
var (
	// ErrDetached indicates a node that is not reachable from a document node.
	ErrDetached = errors.New("anchor: node detached from document")

	// ErrUnsupportedNode indicates a node that cannot carry an anchor
	// (comment, doctype, document).
	ErrUnsupportedNode = errors.New("anchor: unsupported node type")

	// ErrIndexSize indicates an offset outside the bounds of its node.
	ErrIndexSize = errors.New("anchor: offset out of bounds")

	// ErrInvalidRange indicates a range whose end precedes its start, or whose
	// endpoints live in different trees.
	ErrInvalidRange = errors.New("anchor: invalid range")

	// ErrEmptySelection indicates a collapsed or whitespace-only selection.
	// Callers treat it as a no-op.
	ErrEmptySelection = errors.New("anchor: empty selection")
)
