// File: internal/interfaces/storage.go
package interfaces

import "github.com/liamnaddell/indexfs/internal/types"

// InodeHandle is a referenced, cached inode. Implementations keep one
// in-memory instance per inode number while any reference is held, so the
// per-inode locks it carries are shared by all holders.
type InodeHandle interface {
	// Num returns the inode number.
	Num() types.Inum

	// Disk returns a snapshot of the on-disk fields.
	Disk() types.DiskInode
}

// InodeStore allocates, caches and persists inodes and resolves a file's
// logical block index to a physical block.
type InodeStore interface {
	// Allocate reserves an inode of the given type, zero-initializes its
	// on-disk record and returns it referenced.
	Allocate(typ types.InodeType, parent types.Inum) (InodeHandle, error)

	// Get references the inode, reading it through the block cache on
	// first use.
	Get(inum types.Inum) (InodeHandle, error)

	// Put drops one reference. The last put of a dirty inode writes it
	// back; the last put of an unlinked inode reclaims it.
	Put(h InodeHandle) error

	// ResolveBlock maps a logical block index within the file to a
	// physical block, walking indirect chains through the block cache.
	// Returns types.NoBlock for a hole.
	ResolveBlock(h InodeHandle, logical uint64) (types.Pblk, error)

	// Grow appends exactly one data block to the file, allocating
	// indirect blocks as needed, and returns its physical address.
	// Serialized per inode; returns types.ErrBusy if an extension is
	// already in flight.
	Grow(h InodeHandle) (types.Pblk, error)

	// Flush writes back the inode record if dirty.
	Flush(h InodeHandle) error
}

// BulkEntries is the result of one bulk directory read. Payload is the wire
// encoding: concatenated {inode, type, nameLen, name} records with no
// padding, never split mid-record.
type BulkEntries struct {
	Payload []byte

	// Count is the number of serialized records.
	Count int

	// NextOffset resumes the enumeration; it equals the directory's data
	// size once the enumeration is exhausted.
	NextOffset uint64

	// End reports that the enumeration is complete.
	End bool
}

// DirectoryManager encodes, scans and mutates the flat entry list stored in
// a directory inode's data blocks.
type DirectoryManager interface {
	// Scan linearly searches the directory for a live entry with the
	// given name. Lockless; safe against concurrent insert/remove.
	Scan(dir InodeHandle, name string) (types.Dirent, error)

	// Insert links name to inum, reusing the first tombstoned or free
	// slot large enough, extending the directory by one block when none
	// fits. Serialized per directory; returns types.ErrBusy when the
	// directory lock is unavailable.
	Insert(dir InodeHandle, name string, inum types.Inum, typ types.InodeType) error

	// Remove tombstones the named entry in place. Same locking as Insert.
	Remove(dir InodeHandle, name string) (types.Inum, error)

	// BulkRead serializes live records starting at the record boundary at
	// or after offset, packing as many as fit in maxBytes.
	BulkRead(dir InodeHandle, offset uint64, maxBytes int) (BulkEntries, error)
}
