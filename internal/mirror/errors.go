package mirror

import (
	"errors"

	"webmirror/internal/storage"
)

var (
	// ErrConfiguration reports a Context used before its location is set.
	ErrConfiguration = errors.New("mirror: context is missing base url or base path")
	// ErrResolution reports a destination requested before it is known.
	ErrResolution = errors.New("mirror: destination not resolved")
	// ErrUnregisteredTag reports a tag with no handler and no default.
	ErrUnregisteredTag = errors.New("mirror: no handler registered for tag")
	// ErrTransport wraps any failure reported by the session, including
	// robots.txt denials.
	ErrTransport = errors.New("mirror: transport failure")
	// ErrWriteConflict reports an existing destination that was kept.
	ErrWriteConflict = storage.ErrWriteConflict
	// ErrExtraction reports content the extractor could not parse.
	ErrExtraction = errors.New("mirror: reference extraction failed")
	// ErrSkipped is returned by Retrieve when a resource is deliberately not saved.
	ErrSkipped = errors.New("mirror: resource skipped")
	// ErrClosed is returned once the scheduler stops accepting work.
	ErrClosed = errors.New("mirror: scheduler closed")
)
