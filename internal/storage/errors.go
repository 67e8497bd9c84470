package storage

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Every failure the engine reports falls into one of the classes below.
// Callers match with errors.Is; the returned error usually wraps the
// sentinel with the log name, record number or file involved.
//
//   ┌──────────────────────┬───────────────────────────────────────────────┐
//   │ Sentinel             │ Meaning                                       │
//   ├──────────────────────┼───────────────────────────────────────────────┤
//   │ (filesystem error)   │ I/O failure, passed through wrapped           │
//   │ ErrCorruptFormat     │ bad magic, inconsistent header size, bad len  │
//   │ ErrVersionMismatch   │ format version outside supported range        │
//   │ ErrCorruptIndex      │ index entry contradicts the segment data      │
//   │ ErrRecordMissing     │ hole in the record number space               │
//   │ ErrRecordDuplicated  │ record number already written                 │
//   │ ErrRecordExpired     │ record retired by retention but still indexed │
//   │ ErrNotFound          │ log or record absent                          │
//   │ ErrConflict          │ log (or segment) already exists               │
//   │ ErrMethodNotAllowed  │ optional feature unavailable                  │
//   └──────────────────────┴───────────────────────────────────────────────┘
//
// Gaps and duplicates are "forgivable": the DurabilityPolicy decides whether
// they surface as errors or are tolerated.
//
// =============================================================================

var (
	// ErrCorruptFormat means an on-disk structure failed validation.
	ErrCorruptFormat = errors.New("corrupt format")

	// ErrVersionMismatch means a file carries an unsupported format version.
	// It also matches ErrCorruptFormat.
	ErrVersionMismatch error = &versionError{}

	// ErrCorruptIndex means RIDX or TIDX pointed at the wrong place.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrRecordMissing means the record number is a hole.
	ErrRecordMissing = errors.New("record missing")

	// ErrRecordDuplicated means the record number was already written.
	ErrRecordDuplicated = errors.New("record duplicated")

	// ErrRecordExpired means retention removed the record's segment.
	ErrRecordExpired = errors.New("record expired")

	// ErrNotFound means the log or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the log or segment already exists.
	ErrConflict = errors.New("conflict")

	// ErrMethodNotAllowed means an optional facility (e.g. the timestamp
	// index) is not available for this log.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrLogClosed means the handle has been closed.
	ErrLogClosed = errors.New("log is closed")

	// ErrInvalidRecord means a record cannot be encoded.
	ErrInvalidRecord = errors.New("invalid record")
)

type versionError struct{}

func (*versionError) Error() string { return "version mismatch" }

func (*versionError) Is(target error) bool { return target == ErrCorruptFormat }
