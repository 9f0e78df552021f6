// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"

	"github.com/liamnaddell/indexfs/internal/types"
)

// BlockDeviceReader provides methods for reading from block devices
type BlockDeviceReader interface {
	// ReadBlocks reads count consecutive blocks starting at the given
	// address into buf, which must be count*BlockSize() bytes long.
	ReadBlocks(start types.Pblk, count uint32, buf []byte) error

	// BlockSize returns the size of a single block in bytes
	BlockSize() uint32

	// TotalBlocks returns the total number of blocks on the device
	TotalBlocks() types.Pblk
}

// BlockDeviceWriter provides methods for writing to block devices
type BlockDeviceWriter interface {
	// WriteBlocks writes len(data)/BlockSize() consecutive blocks starting
	// at the given address.
	WriteBlocks(start types.Pblk, data []byte) error

	// Sync ensures all pending writes are committed to storage
	Sync() error
}

// BlockDevice represents an exclusively-owned raw block device. The page
// cache is the only component that performs I/O through it.
type BlockDevice interface {
	BlockDeviceReader
	BlockDeviceWriter
	io.Closer
}

// BlockCache mediates every device access at cache-page granularity. A page
// spans several logically adjacent filesystem blocks so one device transfer
// satisfies a run of nearby requests.
type BlockCache interface {
	// Acquire returns a pinned view of the given block, loading the
	// containing page from the device if it is absent. The view stays
	// valid until Release.
	Acquire(block types.Pblk) (Buffer, error)

	// Release unpins a buffer; dirty marks the containing page as needing
	// write-back.
	Release(buf Buffer, dirty bool)

	// Flush forces write-back of the dirty page containing the given
	// block, if any.
	Flush(block types.Pblk) error

	// FlushAll forces write-back of every dirty page.
	FlushAll() error

	// Stats returns cache performance counters.
	Stats() BlockCacheStats
}

// Buffer is a pinned, mutable view of exactly one filesystem block. The
// underlying page cannot be evicted while any buffer into it is pinned.
type Buffer interface {
	// Block returns the block number this buffer views.
	Block() types.Pblk

	// Data returns the block contents. The slice aliases cache memory and
	// must not be used after Release.
	Data() []byte
}

// BlockCacheStats contains cache performance counters.
type BlockCacheStats struct {
	// Total number of cache hits
	Hits uint64

	// Total number of cache misses
	Misses uint64

	// Number of pages evicted since mount
	Evictions uint64

	// Number of dirty pages written back since mount
	Writebacks uint64

	// Current number of resident pages
	PagesInCache uint32

	// Maximum number of resident pages
	MaxPages uint32
}
