package flintkv

import "errors"

// Error sentinels classify every failure this package can return. Internal
// packages wrap lower-level causes with fmt.Errorf's %w; callers at this
// boundary test with errors.Is against these, never against a package's
// internal error type.
var (
	// ErrNotFound is returned by Get when the key has no live value.
	ErrNotFound = errors.New("flintkv: key not found")

	// ErrCorruption signals a checksum mismatch, malformed record, or
	// any other on-disk invariant violation. With Options.ParanoidChecks
	// set, a corruption found during compaction also becomes the DB's
	// background error.
	ErrCorruption = errors.New("flintkv: corruption detected")

	// ErrIOError wraps an underlying filesystem failure (read, write,
	// sync, rename) that is not itself a corruption.
	ErrIOError = errors.New("flintkv: I/O error")

	// ErrInvalidArgument is the kind for malformed arguments. No call in
	// this package returns it: Open does not validate Options, and
	// CompactRange does not check the order of begin and end.
	ErrInvalidArgument = errors.New("flintkv: invalid argument")

	// ErrAlreadyLocked is returned by Open when another process (or
	// another open DB in this process) holds the directory's LOCK file.
	ErrAlreadyLocked = errors.New("flintkv: database already locked")

	// ErrInterrupted is returned when a filesystem operation fails with
	// vfs.ErrInterrupted.
	ErrInterrupted = errors.New("flintkv: interrupted")

	// ErrDBClosed is returned by any operation attempted after Close.
	ErrDBClosed = errors.New("flintkv: database is closed")

	// ErrDBExists is returned by Open when Options.ErrorIfExists is set
	// and the database directory already has a CURRENT file.
	ErrDBExists = errors.New("flintkv: database already exists")
)
