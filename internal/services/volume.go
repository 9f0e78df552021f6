// File: internal/services/volume.go
package services

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/parsers/volume"
	"github.com/liamnaddell/indexfs/internal/types"
)

// Volume is one mounted filesystem: the superblock plus the service stack
// over a single exclusively-owned block device.
type Volume struct {
	dev    interfaces.BlockDevice
	sb     *types.Superblock
	endian binary.ByteOrder

	// ro is set by an unrecoverable write-back failure; every mutating
	// path checks it. The volume stays mounted for reads.
	ro atomic.Bool

	Cache  *PageCache
	Alloc  *Allocator
	Inodes *Store
	Dirs   *DirService
}

// VolumeConfig carries the tunables applied at mount time.
type VolumeConfig struct {
	Cache PageCacheConfig

	// CompactTombstones is the directory compaction policy handed to the
	// entry manager.
	CompactTombstones bool
}

// DefaultVolumeConfig returns the stock mount configuration.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{Cache: DefaultPageCacheConfig()}
}

// MountVolume reads and validates the superblock, then assembles the
// service stack. A corrupt superblock aborts the mount entirely.
func MountVolume(dev interfaces.BlockDevice, cfg VolumeConfig) (*Volume, error) {
	v := &Volume{dev: dev, endian: binary.LittleEndian}

	cache, err := NewPageCache(dev, cfg.Cache, &v.ro)
	if err != nil {
		return nil, err
	}
	v.Cache = cache

	buf, err := cache.Acquire(types.SuperblockBlock)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	sb, err := volume.ParseSuperblock(buf.Data(), v.endian)
	cache.Release(buf, false)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if sb.BlockSize != dev.BlockSize() {
		return nil, fmt.Errorf("mount: superblock block size %d does not match device block size %d: %w",
			sb.BlockSize, dev.BlockSize(), types.ErrCorrupt)
	}
	if uint64(sb.TotalBlocks) > uint64(dev.TotalBlocks()) {
		return nil, fmt.Errorf("mount: volume of %d blocks exceeds device of %d: %w",
			sb.TotalBlocks, dev.TotalBlocks(), types.ErrCorrupt)
	}
	v.sb = sb

	v.Alloc = NewAllocator(sb, v.Cache)
	v.Inodes = NewStore(sb, v.Cache, v.Alloc, v.endian, &v.ro)
	v.Dirs = NewDirService(sb, v.Inodes, v.Cache, v.endian, &v.ro, cfg.CompactTombstones)
	return v, nil
}

// Superblock returns the immutable volume descriptor.
func (v *Volume) Superblock() *types.Superblock {
	return v.sb
}

// ReadOnly reports whether the volume has been fenced read-only.
func (v *Volume) ReadOnly() bool {
	return v.ro.Load()
}

// Sync writes back dirty inodes and cache pages and syncs the device.
func (v *Volume) Sync() error {
	if err := v.Inodes.SyncAll(); err != nil {
		return err
	}
	if err := v.Cache.FlushAll(); err != nil {
		return err
	}
	return v.dev.Sync()
}

// Close flushes everything and closes the device.
func (v *Volume) Close() error {
	syncErr := v.Sync()
	closeErr := v.dev.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// ProbeDevice classifies a device's first block for the mount/registration
// handshake without mounting it.
func ProbeDevice(dev interfaces.BlockDevice) (volume.ProbeResult, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlocks(types.SuperblockBlock, 1, buf); err != nil {
		return volume.ProbeCorrupt, fmt.Errorf("probe: %w", err)
	}
	return volume.Probe(buf, binary.LittleEndian), nil
}
