// File: internal/device/file.go
package device

import (
	"fmt"
	"os"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/types"
)

// FileDevice exposes a regular file or raw disk node as a block device.
// The driver process is assumed to hold exclusive ownership of the file;
// no advisory locking is attempted here.
type FileDevice struct {
	file      *os.File
	path      string
	blockSize uint32
	blocks    types.Pblk
}

var _ interfaces.BlockDevice = (*FileDevice)(nil)

// OpenFileDevice opens an existing backing file with the given block size.
// The device size is the file size rounded down to a whole block.
func OpenFileDevice(path string, blockSize uint32) (*FileDevice, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat backing file: %w", err)
	}

	blocks := stat.Size() / int64(blockSize)
	if blocks == 0 {
		file.Close()
		return nil, fmt.Errorf("backing file %q smaller than one block", path)
	}

	return &FileDevice{
		file:      file,
		path:      path,
		blockSize: blockSize,
		blocks:    types.Pblk(blocks),
	}, nil
}

// CreateFileDevice creates (or truncates) a backing file sized to hold the
// given number of blocks. Used by mkfs.
func CreateFileDevice(path string, blockSize uint32, blocks types.Pblk) (*FileDevice, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}
	if blocks == 0 {
		return nil, fmt.Errorf("device must have at least one block")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create backing file: %w", err)
	}
	if err := file.Truncate(int64(blocks) * int64(blockSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size backing file: %w", err)
	}

	return &FileDevice{
		file:      file,
		path:      path,
		blockSize: blockSize,
		blocks:    blocks,
	}, nil
}

func checkBlockSize(blockSize uint32) error {
	if blockSize < types.MinBlockSize || blockSize > types.MaxBlockSize || blockSize&(blockSize-1) != 0 {
		return fmt.Errorf("invalid block size %d", blockSize)
	}
	return nil
}

// Path returns the backing file path.
func (d *FileDevice) Path() string {
	return d.path
}

// BlockSize returns the device block size in bytes.
func (d *FileDevice) BlockSize() uint32 {
	return d.blockSize
}

// TotalBlocks returns the number of addressable blocks.
func (d *FileDevice) TotalBlocks() types.Pblk {
	return d.blocks
}

// ReadBlocks reads count consecutive blocks starting at start into buf.
func (d *FileDevice) ReadBlocks(start types.Pblk, count uint32, buf []byte) error {
	if err := d.checkRange(start, count, len(buf)); err != nil {
		return err
	}
	n := int(count) * int(d.blockSize)
	if _, err := d.file.ReadAt(buf[:n], int64(start)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("read of blocks [%d,+%d) failed: %v: %w", start, count, err, types.ErrIO)
	}
	return nil
}

// WriteBlocks writes consecutive blocks starting at start.
func (d *FileDevice) WriteBlocks(start types.Pblk, data []byte) error {
	count := uint32(len(data)) / d.blockSize
	if err := d.checkRange(start, count, len(data)); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(data, int64(start)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("write of blocks [%d,+%d) failed: %v: %w", start, count, err, types.ErrIO)
	}
	return nil
}

// Sync flushes the backing file to stable storage.
func (d *FileDevice) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("sync failed: %v: %w", err, types.ErrIO)
	}
	return nil
}

// Close closes the backing file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}

func (d *FileDevice) checkRange(start types.Pblk, count uint32, bufLen int) error {
	if count == 0 || uint32(bufLen)%d.blockSize != 0 || uint32(bufLen)/d.blockSize < count {
		return fmt.Errorf("buffer of %d bytes does not match %d blocks of %d", bufLen, count, d.blockSize)
	}
	if uint64(start)+uint64(count) > uint64(d.blocks) {
		return fmt.Errorf("blocks [%d,+%d) outside device of %d blocks: %w", start, count, d.blocks, types.ErrIO)
	}
	return nil
}
