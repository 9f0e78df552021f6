// File: internal/services/dir_service.go
package services

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/parsers/dirents"
	"github.com/liamnaddell/indexfs/internal/types"
)

// DirService encodes, scans and mutates the flat entry list stored in a
// directory inode's data blocks.
//
// Lookups and bulk reads are lockless: a record's inode-number field is
// read and written in a single bounded access, so a concurrent unlink is
// observed either before or after the change, both valid outcomes for a
// logically concurrent operation. Insert and remove on one directory are
// serialized by that directory's mutation lock because finding a usable
// slot is inherently racy against itself.
//
// At the target scale of roughly a thousand entries per directory a linear
// scan is deliberate; no secondary index is maintained.
type DirService struct {
	sb     *types.Superblock
	store  *Store
	cache  interfaces.BlockCache
	endian binary.ByteOrder
	ro     *atomic.Bool

	// compactTombstones is the policy knob for physically reclaiming
	// tombstoned slots. Accepted at mount time but currently inert:
	// growing a record to absorb a free neighbor would destroy a record
	// boundary a lockless scanner may be parked on, so slots are only
	// ever reused in place. Whether compaction is worth the stricter
	// scan protocol it would need is left open.
	compactTombstones bool
}

var _ interfaces.DirectoryManager = (*DirService)(nil)

// NewDirService creates a directory entry manager for a mounted volume.
func NewDirService(sb *types.Superblock, store *Store, cache interfaces.BlockCache, endian binary.ByteOrder, ro *atomic.Bool, compact bool) *DirService {
	if ro == nil {
		ro = new(atomic.Bool)
	}
	return &DirService{sb: sb, store: store, cache: cache, endian: endian, ro: ro, compactTombstones: compact}
}

// CompactTombstones reports the tombstone compaction policy this volume
// was mounted with.
func (d *DirService) CompactTombstones() bool {
	return d.compactTombstones
}

// ValidName reports whether a name can be stored in a directory entry.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) <= types.NameMax &&
		name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\x00")
}

// checkDir asserts the handle references a directory of this volume.
func (d *DirService) checkDir(h interfaces.InodeHandle) (*Inode, error) {
	ip, err := d.store.own(h)
	if err != nil {
		return nil, err
	}
	if !ip.Disk().IsDirectory() {
		return nil, fmt.Errorf("inode %d: %w", ip.Num(), types.ErrNotADirectory)
	}
	return ip, nil
}

// resolveDirBlock maps a directory's logical block to its physical block,
// treating a hole as corruption: directory data is always fully allocated.
func (d *DirService) resolveDirBlock(ip *Inode, blk uint64) (types.Pblk, error) {
	pb, err := d.store.ResolveBlock(ip, blk)
	if err != nil {
		return types.NoBlock, err
	}
	if pb == types.NoBlock {
		return types.NoBlock, fmt.Errorf("directory %d missing block %d: %w", ip.Num(), blk, types.ErrCorrupt)
	}
	return pb, nil
}

// walkBlock iterates the records of one directory block, calling visit
// with each record and its intra-block offset. Returning false stops the
// walk early.
func (d *DirService) walkBlock(pb types.Pblk, visit func(de types.Dirent, off int) (bool, error)) error {
	buf, err := d.cache.Acquire(pb)
	if err != nil {
		return err
	}
	defer d.cache.Release(buf, false)

	data := buf.Data()
	for off := 0; off < len(data); {
		de, err := dirents.ParseDirent(data, off, d.endian)
		if err != nil {
			return err
		}
		cont, err := visit(de, off)
		if err != nil || !cont {
			return err
		}
		off += int(de.RecLen)
	}
	return nil
}

// Scan linearly searches the directory for a live entry with the given
// name. One pass over the entry list, cost proportional to the live entry
// count.
func (d *DirService) Scan(dir interfaces.InodeHandle, name string) (types.Dirent, error) {
	var found types.Dirent
	ip, err := d.checkDir(dir)
	if err != nil {
		return found, err
	}
	if !ValidName(name) {
		return found, fmt.Errorf("name %q: %w", name, types.ErrNameTooLong)
	}

	blocks := uint64(ip.Disk().Blocks)
	for blk := uint64(0); blk < blocks; blk++ {
		pb, err := d.resolveDirBlock(ip, blk)
		if err != nil {
			return found, err
		}

		hit := false
		err = d.walkBlock(pb, func(de types.Dirent, off int) (bool, error) {
			if de.Live() && de.Name == name {
				found = de
				hit = true
				return false, nil
			}
			return true, nil
		})
		if err != nil {
			return found, err
		}
		if hit {
			return found, nil
		}
	}
	return found, fmt.Errorf("entry %q: %w", name, types.ErrNotFound)
}

// Insert links name to inum. The first tombstoned or never-used slot large
// enough is reused; when none fits, the directory is extended by exactly
// one block. The new entry becomes visible to lockless scanners only with
// the final store of its inode-number field.
func (d *DirService) Insert(dir interfaces.InodeHandle, name string, inum types.Inum, typ types.InodeType) error {
	ip, err := d.checkDir(dir)
	if err != nil {
		return err
	}
	if !ValidName(name) {
		return fmt.Errorf("name %q: %w", name, types.ErrNameTooLong)
	}
	if inum == types.NoInode {
		return fmt.Errorf("cannot link name %q to inode 0", name)
	}
	if d.ro.Load() {
		return types.ErrReadOnly
	}

	if !ip.dirMu.TryLock() {
		return fmt.Errorf("directory %d busy: %w", ip.Num(), types.ErrBusy)
	}
	defer ip.dirMu.Unlock()

	needed := types.DirentRecLen(len(name))
	blocks := uint64(ip.Disk().Blocks)

	// One pass finds both a duplicate and the first fitting free slot.
	slotBlk := types.NoBlock
	slotOff := -1
	for blk := uint64(0); blk < blocks; blk++ {
		pb, err := d.resolveDirBlock(ip, blk)
		if err != nil {
			return err
		}
		dup := false
		err = d.walkBlock(pb, func(de types.Dirent, off int) (bool, error) {
			if de.Live() {
				if de.Name == name {
					dup = true
					return false, nil
				}
			} else if slotOff < 0 && de.RecLen >= needed {
				slotBlk, slotOff = pb, off
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("entry %q: %w", name, types.ErrExists)
		}
	}

	if slotOff >= 0 {
		return d.fillSlot(slotBlk, slotOff, name, inum, typ)
	}

	// No usable slot anywhere: append one block, formatted before the
	// block count is published so scanners never see raw bytes. The new
	// entry takes only the space its name needs; the remainder stays a
	// free record for later inserts.
	_, err = d.store.appendPrepared(ip, func(data []byte) error {
		if err := dirents.InitFreeBlock(data, d.endian); err != nil {
			return err
		}
		recLen := uint16(len(data))
		if remainder := recLen - needed; remainder >= types.DirentHeaderSize {
			free := types.Dirent{Inum: types.NoInode, RecLen: remainder}
			if err := dirents.EncodeDirent(data, int(needed), free, d.endian); err != nil {
				return err
			}
			recLen = needed
		}
		de := types.Dirent{Inum: inum, RecLen: recLen, Type: typ, Name: name}
		return dirents.EncodeDirent(data, 0, de, d.endian)
	})
	return err
}

// fillSlot writes a new entry into a free record, splitting off the unused
// remainder when it is big enough to hold a future record. Field order
// matters for lockless scanners: the remainder's header is written first
// (unreachable until the slot's record length shrinks), then the entry
// with a zero inode number, and finally the inode number itself, the
// single store that makes the entry live.
func (d *DirService) fillSlot(pb types.Pblk, off int, name string, inum types.Inum, typ types.InodeType) error {
	buf, err := d.cache.Acquire(pb)
	if err != nil {
		return err
	}
	data := buf.Data()

	de, err := dirents.ParseDirent(data, off, d.endian)
	if err != nil {
		d.cache.Release(buf, false)
		return err
	}

	needed := types.DirentRecLen(len(name))
	recLen := de.RecLen
	if remainder := de.RecLen - needed; remainder >= types.DirentHeaderSize {
		free := types.Dirent{Inum: types.NoInode, RecLen: remainder}
		if err := dirents.EncodeDirent(data, off+int(needed), free, d.endian); err != nil {
			d.cache.Release(buf, false)
			return err
		}
		recLen = needed
	}

	entry := types.Dirent{Inum: types.NoInode, RecLen: recLen, Type: typ, Name: name}
	if err := dirents.EncodeDirent(data, off, entry, d.endian); err != nil {
		d.cache.Release(buf, false)
		return err
	}
	dirents.SetInum(data, off, inum, d.endian)

	d.cache.Release(buf, true)
	return nil
}

// Remove tombstones the named entry by zeroing its inode-number field in
// place. The slot keeps its size and is reusable by a later insert; the
// data region is left alone even under the compaction policy, which is
// accepted but inert (see compactTombstones).
func (d *DirService) Remove(dir interfaces.InodeHandle, name string) (types.Inum, error) {
	ip, err := d.checkDir(dir)
	if err != nil {
		return types.NoInode, err
	}
	if !ValidName(name) {
		return types.NoInode, fmt.Errorf("name %q: %w", name, types.ErrNameTooLong)
	}
	if d.ro.Load() {
		return types.NoInode, types.ErrReadOnly
	}

	if !ip.dirMu.TryLock() {
		return types.NoInode, fmt.Errorf("directory %d busy: %w", ip.Num(), types.ErrBusy)
	}
	defer ip.dirMu.Unlock()

	blocks := uint64(ip.Disk().Blocks)
	for blk := uint64(0); blk < blocks; blk++ {
		pb, err := d.resolveDirBlock(ip, blk)
		if err != nil {
			return types.NoInode, err
		}

		buf, err := d.cache.Acquire(pb)
		if err != nil {
			return types.NoInode, err
		}
		data := buf.Data()
		for off := 0; off < len(data); {
			de, err := dirents.ParseDirent(data, off, d.endian)
			if err != nil {
				d.cache.Release(buf, false)
				return types.NoInode, err
			}
			if de.Live() && de.Name == name {
				dirents.SetInum(data, off, types.NoInode, d.endian)
				d.cache.Release(buf, true)
				return de.Inum, nil
			}
			off += int(de.RecLen)
		}
		d.cache.Release(buf, false)
	}
	return types.NoInode, fmt.Errorf("entry %q: %w", name, types.ErrNotFound)
}

// Empty reports whether the directory holds no live entries. Tombstoned
// slots do not count.
func (d *DirService) Empty(dir interfaces.InodeHandle) (bool, error) {
	ip, err := d.checkDir(dir)
	if err != nil {
		return false, err
	}

	blocks := uint64(ip.Disk().Blocks)
	for blk := uint64(0); blk < blocks; blk++ {
		pb, err := d.resolveDirBlock(ip, blk)
		if err != nil {
			return false, err
		}
		live := false
		err = d.walkBlock(pb, func(de types.Dirent, off int) (bool, error) {
			if de.Live() {
				live = true
				return false, nil
			}
			return true, nil
		})
		if err != nil {
			return false, err
		}
		if live {
			return false, nil
		}
	}
	return true, nil
}

// BulkRead serializes live records into the wire encoding, starting at the
// record boundary at or after offset and packing as many whole records as
// fit in maxBytes. Tombstoned slots are skipped transparently. Repeated
// calls through the returned resumption offset enumerate every live entry
// of an unmutated directory exactly once, in a stable order.
func (d *DirService) BulkRead(dir interfaces.InodeHandle, offset uint64, maxBytes int) (interfaces.BulkEntries, error) {
	var out interfaces.BulkEntries
	ip, err := d.checkDir(dir)
	if err != nil {
		return out, err
	}
	if maxBytes <= 0 {
		return out, fmt.Errorf("response budget %d must be positive", maxBytes)
	}

	bs := uint64(d.sb.BlockSize)
	size := uint64(ip.Disk().Blocks) * bs
	if offset >= size {
		out.NextOffset = size
		out.End = true
		return out, nil
	}

	pos := offset
	full := false
	for blk := offset / bs; blk < size/bs && !full; blk++ {
		pb, err := d.resolveDirBlock(ip, blk)
		if err != nil {
			return out, err
		}

		err = d.walkBlock(pb, func(de types.Dirent, off int) (bool, error) {
			recPos := blk*bs + uint64(off)
			if recPos < pos {
				return true, nil // still seeking the resumption point
			}
			if !de.Live() {
				pos = recPos + uint64(de.RecLen)
				return true, nil
			}
			if len(out.Payload)+dirents.WireLen(de.Name) > maxBytes {
				full = true
				return false, nil
			}
			out.Payload = dirents.AppendWire(out.Payload, de, d.endian)
			out.Count++
			pos = recPos + uint64(de.RecLen)
			return true, nil
		})
		if err != nil {
			return out, err
		}
	}

	if full && out.Count == 0 {
		// The budget cannot even hold the next record; returning zero
		// bytes with an unmoved offset would spin the caller.
		return out, fmt.Errorf("response budget %d too small for the next record", maxBytes)
	}
	out.NextOffset = pos
	if pos >= size {
		out.NextOffset = size
		if out.Count == 0 {
			out.End = true
		}
	}
	return out, nil
}
