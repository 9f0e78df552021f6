// File: internal/types/errors.go
package types

import "errors"

// Error taxonomy for the storage engine. Callers match with errors.Is;
// lower layers wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrNotFound is returned when a path segment or directory entry does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotADirectory is returned when traversal descends through an inode
	// that is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrCorrupt indicates a bad magic value or a malformed on-disk record,
	// detected at mount or on read.
	ErrCorrupt = errors.New("corrupt volume")

	// ErrNoSpace indicates an exhausted block or inode bitmap.
	ErrNoSpace = errors.New("no space on volume")

	// ErrIO indicates a device failure that survived the cache's bounded
	// retries.
	ErrIO = errors.New("i/o error")

	// ErrBusy indicates a per-inode or per-directory lock was unavailable.
	// It is a transient condition surfaced immediately to the caller and
	// never retried internally.
	ErrBusy = errors.New("resource busy")

	// ErrReadOnly is returned for mutations after an unrecoverable
	// write-back failure has transitioned the volume to read-only.
	ErrReadOnly = errors.New("volume is read-only")

	// ErrExists is returned when inserting a directory entry whose name is
	// already live in that directory.
	ErrExists = errors.New("entry exists")

	// ErrNameTooLong is returned for names longer than NameMax or empty
	// names.
	ErrNameTooLong = errors.New("invalid entry name")

	// ErrInvalidHandle is returned for dispatcher operations referencing an
	// unknown or closed inode handle.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrFileTooBig is returned when extending a file past the reach of the
	// triple-indirect pointer.
	ErrFileTooBig = errors.New("file too big")

	// ErrNotEmpty is returned when unlinking a directory that still holds
	// live entries.
	ErrNotEmpty = errors.New("directory not empty")
)
