// Package vfs is the virtual-filesystem collaborator the storage engine
// opens, reads, writes, renames, and locks files through. The engine
// itself never calls os.Open or os.Create directly; everything goes
// through an FS so the same engine code runs against the real OS
// filesystem and against an in-memory one built for recovery tests.
package vfs

import (
	"errors"
	"io"
	"os"
)

// Errors an FS implementation returns. The engine maps these to its own
// NotFound / AlreadyLocked / Interrupted error kinds at the boundary.
var (
	ErrNotFound      = errors.New("vfs: file not found")
	ErrAlreadyLocked = errors.New("vfs: file already locked")
	ErrInterrupted   = errors.New("vfs: read interrupted")
)

// FS is the filesystem an engine instance is opened against.
type FS interface {
	// Create creates name for writing, truncating it if it already exists.
	Create(name string) (WritableFile, error)

	// Open opens name for sequential reading.
	Open(name string) (SequentialFile, error)

	// OpenRandomAccess opens name for positioned reads.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// OpenAppendable opens name for writing, appending to any existing
	// contents instead of truncating.
	OpenAppendable(name string) (WritableFile, error)

	// Rename atomically replaces newname with oldname's contents.
	Rename(oldname, newname string) error

	// Remove deletes name. It is not an error if name does not exist.
	Remove(name string) error

	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error

	// Exists reports whether name is present.
	Exists(name string) bool

	// Children lists the entries of a directory, in no particular order.
	Children(dir string) ([]string, error)

	// Lock acquires an exclusive advisory lock on name, held for as long
	// as the returned Locker stays open. A second Lock call on the same
	// name, from this process or another, fails with ErrAlreadyLocked.
	Lock(name string) (io.Closer, error)

	// SyncDir fsyncs a directory so that file creation, deletion, and
	// rename within it are durable across a crash.
	SyncDir(dir string) error
}

// WritableFile is an open file being written to, in the write-once,
// append-many pattern the WAL, MANIFEST, and table builder all use.
type WritableFile interface {
	io.Writer
	io.Closer

	// Sync flushes buffered data to stable storage.
	Sync() error
}

// SequentialFile is an open file being read front to back, the access
// pattern the WAL and MANIFEST readers use.
type SequentialFile interface {
	io.Reader
	io.Closer
}

// RandomAccessFile is an open file read at arbitrary offsets, the access
// pattern table blocks are read with.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer

	// Size returns the file's size in bytes.
	Size() int64
}

// mapOSErr translates stdlib filesystem errors into this package's
// sentinels where the engine distinguishes them.
func mapOSErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
