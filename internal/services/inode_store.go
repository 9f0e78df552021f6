// File: internal/services/inode_store.go
package services

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/parsers/inodes"
	"github.com/liamnaddell/indexfs/internal/types"
)

// Inode is the in-memory, reference-counted form of one on-disk inode.
// The store keeps exactly one instance per inode number while any
// reference is held, so the per-inode locks below are shared by every
// holder.
type Inode struct {
	num types.Inum

	// mu guards disk and dirty.
	mu    sync.RWMutex
	disk  types.DiskInode
	dirty bool

	refs int // guarded by the store's mutex

	// extMu serializes file extension: only one Grow per inode may be in
	// flight. Reads of already-allocated regions take no lock because
	// extension only appends blocks, never rewrites exposed ones.
	extMu sync.Mutex

	// dirMu serializes directory entry insert/remove, which race against
	// themselves over slot reuse. Scans stay lockless.
	dirMu sync.Mutex
}

// Num returns the inode number.
func (ip *Inode) Num() types.Inum { return ip.num }

// Disk returns a snapshot of the on-disk fields.
func (ip *Inode) Disk() types.DiskInode {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return ip.disk
}

var _ interfaces.InodeHandle = (*Inode)(nil)

// Store allocates, caches and persists inodes and maps logical file blocks
// to physical blocks. All storage access goes through the page cache.
type Store struct {
	sb     *types.Superblock
	cache  interfaces.BlockCache
	alloc  *Allocator
	endian binary.ByteOrder
	ro     *atomic.Bool

	mu        sync.Mutex
	inodes    map[types.Inum]*Inode
	maxCached int
}

var _ interfaces.InodeStore = (*Store)(nil)

// NewStore creates an inode store for a mounted volume.
func NewStore(sb *types.Superblock, cache interfaces.BlockCache, alloc *Allocator, endian binary.ByteOrder, ro *atomic.Bool) *Store {
	if ro == nil {
		ro = new(atomic.Bool)
	}
	return &Store{
		sb:        sb,
		cache:     cache,
		alloc:     alloc,
		endian:    endian,
		ro:        ro,
		inodes:    make(map[types.Inum]*Inode),
		maxCached: 256,
	}
}

// Allocate reserves an inode, zero-initializes its record and returns it
// referenced with a link count of one; the caller is expected to link it
// into a directory immediately (or drop the link count and put it, which
// reclaims it).
func (s *Store) Allocate(typ types.InodeType, parent types.Inum) (interfaces.InodeHandle, error) {
	if s.ro.Load() {
		return nil, types.ErrReadOnly
	}
	if typ != types.InodeFile && typ != types.InodeDirectory {
		return nil, fmt.Errorf("cannot allocate inode of type %v", typ)
	}

	inum, err := s.alloc.AllocInode()
	if err != nil {
		return nil, err
	}

	ip := &Inode{
		num: inum,
		disk: types.DiskInode{
			Type:   typ,
			Nlink:  1,
			Flags:  types.InodeLive,
			Parent: parent,
		},
		dirty: true,
		refs:  1,
	}
	if err := s.flushInode(ip); err != nil {
		s.alloc.FreeInode(inum)
		return nil, err
	}

	s.mu.Lock()
	s.inodes[inum] = ip
	s.mu.Unlock()
	return ip, nil
}

// Get references an inode, reading it through the page cache on first use.
func (s *Store) Get(inum types.Inum) (interfaces.InodeHandle, error) {
	if inum == types.NoInode || uint32(inum) > s.sb.InodeCount {
		return nil, fmt.Errorf("inode %d outside table of %d: %w", inum, s.sb.InodeCount, types.ErrCorrupt)
	}

	s.mu.Lock()
	if ip, ok := s.inodes[inum]; ok {
		ip.refs++
		s.mu.Unlock()
		return ip, nil
	}
	s.mu.Unlock()

	di, err := s.readInode(inum)
	if err != nil {
		return nil, err
	}
	if di.Type == types.InodeFree {
		return nil, fmt.Errorf("reference to free inode %d: %w", inum, types.ErrCorrupt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another task may have cached it while we were reading.
	if ip, ok := s.inodes[inum]; ok {
		ip.refs++
		return ip, nil
	}
	ip := &Inode{num: inum, disk: *di, refs: 1}
	s.inodes[inum] = ip
	s.evictUnreferenced()
	return ip, nil
}

// Put drops one reference. The final put of a dirty inode writes it back;
// the final put of an unlinked inode reclaims its blocks and its bitmap
// bit, which is the delete-after-last-close path.
func (s *Store) Put(h interfaces.InodeHandle) error {
	ip, err := s.own(h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ip.refs--
	last := ip.refs == 0
	s.mu.Unlock()
	if !last {
		return nil
	}

	ip.mu.RLock()
	unlinked := ip.disk.Nlink == 0
	dirty := ip.dirty
	ip.mu.RUnlock()

	if unlinked {
		if err := s.reclaim(ip); err != nil {
			return err
		}
		s.mu.Lock()
		delete(s.inodes, ip.num)
		s.mu.Unlock()
		return nil
	}
	if dirty {
		if err := s.flushInode(ip); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.evictUnreferenced()
	s.mu.Unlock()
	return nil
}

// Flush writes back the inode record if dirty.
func (s *Store) Flush(h interfaces.InodeHandle) error {
	ip, err := s.own(h)
	if err != nil {
		return err
	}
	return s.flushInode(ip)
}

// SyncAll writes back every dirty cached inode. Used at unmount and by
// explicit flush requests.
func (s *Store) SyncAll() error {
	s.mu.Lock()
	all := make([]*Inode, 0, len(s.inodes))
	for _, ip := range s.inodes {
		all = append(all, ip)
	}
	s.mu.Unlock()

	for _, ip := range all {
		if err := s.flushInode(ip); err != nil {
			return err
		}
	}
	return nil
}

// own checks that a handle belongs to this store.
func (s *Store) own(h interfaces.InodeHandle) (*Inode, error) {
	ip, ok := h.(*Inode)
	if !ok || ip == nil {
		return nil, types.ErrInvalidHandle
	}
	return ip, nil
}

// evictUnreferenced trims clean, unreferenced inodes once the table grows
// past its cap. Called with s.mu held.
func (s *Store) evictUnreferenced() {
	if len(s.inodes) <= s.maxCached {
		return
	}
	for num, ip := range s.inodes {
		if len(s.inodes) <= s.maxCached {
			return
		}
		if ip.refs == 0 {
			ip.mu.RLock()
			clean := !ip.dirty
			ip.mu.RUnlock()
			if clean {
				delete(s.inodes, num)
			}
		}
	}
}

// readInode fetches one record from the inode table.
func (s *Store) readInode(inum types.Inum) (*types.DiskInode, error) {
	blk, off := s.sb.InodeLocation(inum)
	buf, err := s.cache.Acquire(blk)
	if err != nil {
		return nil, err
	}
	defer s.cache.Release(buf, false)

	di, err := inodes.ParseInode(buf.Data()[off:off+types.InodeSize], s.endian)
	if err != nil {
		return nil, fmt.Errorf("inode %d: %w", inum, err)
	}
	return di, nil
}

// flushInode writes the record back through the page cache.
func (s *Store) flushInode(ip *Inode) error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if !ip.dirty {
		return nil
	}

	blk, off := s.sb.InodeLocation(ip.num)
	buf, err := s.cache.Acquire(blk)
	if err != nil {
		return err
	}
	if err := inodes.EncodeInode(&ip.disk, buf.Data()[off:off+types.InodeSize], s.endian); err != nil {
		s.cache.Release(buf, false)
		return err
	}
	s.cache.Release(buf, true)
	ip.dirty = false
	return nil
}

// reclaim frees every block of an unlinked inode and its bitmap bit, then
// clears the on-disk record.
func (s *Store) reclaim(ip *Inode) error {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	ppb := uint64(s.sb.PointersPerBlock())
	for i := range ip.disk.Direct {
		if err := s.freeTree(ip.disk.Direct[i], 0, ppb); err != nil {
			return err
		}
	}
	if err := s.freeTree(ip.disk.Single, 1, ppb); err != nil {
		return err
	}
	if err := s.freeTree(ip.disk.Double, 2, ppb); err != nil {
		return err
	}
	if err := s.freeTree(ip.disk.Triple, 3, ppb); err != nil {
		return err
	}

	ip.disk = types.DiskInode{}
	ip.dirty = true

	blk, off := s.sb.InodeLocation(ip.num)
	buf, err := s.cache.Acquire(blk)
	if err != nil {
		return err
	}
	if err := inodes.EncodeInode(&ip.disk, buf.Data()[off:off+types.InodeSize], s.endian); err != nil {
		s.cache.Release(buf, false)
		return err
	}
	s.cache.Release(buf, true)
	ip.dirty = false

	return s.alloc.FreeInode(ip.num)
}

// freeTree frees a pointer subtree: level 0 is a data block, level n>0 an
// indirect block whose entries are level n-1 subtrees.
func (s *Store) freeTree(pb types.Pblk, level int, ppb uint64) error {
	if pb == types.NoBlock {
		return nil
	}
	if level > 0 {
		for i := uint64(0); i < ppb; i++ {
			child, err := s.readIndirectEntry(pb, i)
			if err != nil {
				return err
			}
			if err := s.freeTree(child, level-1, ppb); err != nil {
				return err
			}
		}
	}
	return s.alloc.FreeBlock(pb)
}

// readIndirectEntry reads one pointer out of an indirect block.
func (s *Store) readIndirectEntry(pb types.Pblk, idx uint64) (types.Pblk, error) {
	buf, err := s.cache.Acquire(pb)
	if err != nil {
		return types.NoBlock, err
	}
	defer s.cache.Release(buf, false)

	data := buf.Data()
	off := idx * types.PointerSize
	if off+types.PointerSize > uint64(len(data)) {
		return types.NoBlock, fmt.Errorf("indirect index %d outside block %d: %w", idx, pb, types.ErrCorrupt)
	}
	return types.Pblk(s.endian.Uint32(data[off:])), nil
}

// writeIndirectEntry stores one pointer into an indirect block.
func (s *Store) writeIndirectEntry(pb types.Pblk, idx uint64, val types.Pblk) error {
	buf, err := s.cache.Acquire(pb)
	if err != nil {
		return err
	}
	data := buf.Data()
	off := idx * types.PointerSize
	if off+types.PointerSize > uint64(len(data)) {
		s.cache.Release(buf, false)
		return fmt.Errorf("indirect index %d outside block %d: %w", idx, pb, types.ErrCorrupt)
	}
	s.endian.PutUint32(data[off:], uint32(val))
	s.cache.Release(buf, true)
	return nil
}

// allocZeroBlock reserves a block and zero-fills it through the cache.
func (s *Store) allocZeroBlock() (types.Pblk, error) {
	pb, err := s.alloc.AllocBlock()
	if err != nil {
		return types.NoBlock, err
	}
	buf, err := s.cache.Acquire(pb)
	if err != nil {
		s.alloc.FreeBlock(pb)
		return types.NoBlock, err
	}
	data := buf.Data()
	for i := range data {
		data[i] = 0
	}
	s.cache.Release(buf, true)
	return pb, nil
}

// ResolveBlock maps a logical block index to a physical block, walking the
// indirect chains through the page cache. Returns NoBlock for indices past
// the allocated region.
func (s *Store) ResolveBlock(h interfaces.InodeHandle, logical uint64) (types.Pblk, error) {
	ip, err := s.own(h)
	if err != nil {
		return types.NoBlock, err
	}

	ip.mu.RLock()
	di := ip.disk
	ip.mu.RUnlock()

	ppb := uint64(s.sb.PointersPerBlock())

	// Direct pointers serve the first indices.
	if logical < types.DirectBlocks {
		return di.Direct[logical], nil
	}
	logical -= types.DirectBlocks

	// Single indirect.
	if logical < ppb {
		return s.walkIndirect(di.Single, []uint64{logical})
	}
	logical -= ppb

	// Double indirect.
	if logical < ppb*ppb {
		return s.walkIndirect(di.Double, []uint64{logical / ppb, logical % ppb})
	}
	logical -= ppb * ppb

	// Triple indirect.
	if logical < ppb*ppb*ppb {
		return s.walkIndirect(di.Triple, []uint64{
			logical / (ppb * ppb),
			(logical / ppb) % ppb,
			logical % ppb,
		})
	}
	return types.NoBlock, fmt.Errorf("logical block %d unaddressable: %w", logical, types.ErrFileTooBig)
}

// walkIndirect follows a chain of indirect blocks, one cached lookup per
// level. Indirection is plain recursive lookup over numeric block indices.
func (s *Store) walkIndirect(pb types.Pblk, path []uint64) (types.Pblk, error) {
	for _, idx := range path {
		if pb == types.NoBlock {
			return types.NoBlock, nil
		}
		var err error
		pb, err = s.readIndirectEntry(pb, idx)
		if err != nil {
			return types.NoBlock, err
		}
	}
	return pb, nil
}

// Grow appends exactly one zeroed data block to the inode, allocating
// indirect blocks as needed, and commits the inode's block count.
func (s *Store) Grow(h interfaces.InodeHandle) (types.Pblk, error) {
	ip, err := s.own(h)
	if err != nil {
		return types.NoBlock, err
	}
	return s.appendPrepared(ip, nil)
}

// appendPrepared appends one block, letting prepare format its contents
// before the block count is published. A lockless scan therefore either
// stops at the old count or finds the new block already well-formed.
// Serialized by the per-inode extension lock; an extension already in
// flight surfaces as ErrBusy rather than being waited out.
func (s *Store) appendPrepared(ip *Inode, prepare func(data []byte) error) (types.Pblk, error) {
	if !ip.extMu.TryLock() {
		return types.NoBlock, fmt.Errorf("extension of inode %d in flight: %w", ip.num, types.ErrBusy)
	}
	defer ip.extMu.Unlock()

	if s.ro.Load() {
		return types.NoBlock, types.ErrReadOnly
	}

	ip.mu.RLock()
	idx := uint64(ip.disk.NBlocks())
	tail := ip.disk.Tail
	ip.mu.RUnlock()
	if tail != 0 {
		return types.NoBlock, fmt.Errorf("inode %d has a partial trailing block; grow applies to whole blocks", ip.num)
	}

	pb, err := s.growRaw(ip, idx)
	if err != nil {
		return types.NoBlock, err
	}
	if prepare != nil {
		buf, err := s.cache.Acquire(pb)
		if err != nil {
			return types.NoBlock, err
		}
		if err := prepare(buf.Data()); err != nil {
			s.cache.Release(buf, false)
			return types.NoBlock, err
		}
		s.cache.Release(buf, true)
	}

	ip.mu.Lock()
	ip.disk.Blocks++
	ip.dirty = true
	ip.mu.Unlock()
	return pb, nil
}

// growRaw allocates a zeroed block and wires it into the pointer slot for
// logical index idx without touching the size fields. Callers hold the
// extension lock and publish the size afterwards.
func (s *Store) growRaw(ip *Inode, idx uint64) (types.Pblk, error) {
	if idx >= s.sb.MaxFileBlocks() {
		return types.NoBlock, fmt.Errorf("inode %d at %d blocks: %w", ip.num, idx, types.ErrFileTooBig)
	}
	pb, err := s.allocZeroBlock()
	if err != nil {
		return types.NoBlock, err
	}
	if err := s.installBlock(ip, idx, pb); err != nil {
		s.alloc.FreeBlock(pb)
		return types.NoBlock, err
	}
	return pb, nil
}

// installBlock wires a freshly allocated data block into the pointer slot
// for logical index idx, creating indirect blocks along the way.
func (s *Store) installBlock(ip *Inode, idx uint64, pb types.Pblk) error {
	ppb := uint64(s.sb.PointersPerBlock())

	if idx < types.DirectBlocks {
		ip.mu.Lock()
		ip.disk.Direct[idx] = pb
		ip.dirty = true
		ip.mu.Unlock()
		return nil
	}
	idx -= types.DirectBlocks

	ensureRoot := func(root *types.Pblk) (types.Pblk, error) {
		if *root != types.NoBlock {
			return *root, nil
		}
		nb, err := s.allocZeroBlock()
		if err != nil {
			return types.NoBlock, err
		}
		ip.mu.Lock()
		*root = nb
		ip.dirty = true
		ip.mu.Unlock()
		return nb, nil
	}

	var root types.Pblk
	var path []uint64
	var err error
	switch {
	case idx < ppb:
		root, err = ensureRoot(&ip.disk.Single)
		path = []uint64{idx}
	case idx < ppb+ppb*ppb:
		idx -= ppb
		root, err = ensureRoot(&ip.disk.Double)
		path = []uint64{idx / ppb, idx % ppb}
	default:
		idx -= ppb + ppb*ppb
		root, err = ensureRoot(&ip.disk.Triple)
		path = []uint64{idx / (ppb * ppb), (idx / ppb) % ppb, idx % ppb}
	}
	if err != nil {
		return err
	}

	// Walk intermediate levels, creating missing indirect blocks.
	for _, step := range path[:len(path)-1] {
		child, err := s.readIndirectEntry(root, step)
		if err != nil {
			return err
		}
		if child == types.NoBlock {
			child, err = s.allocZeroBlock()
			if err != nil {
				return err
			}
			if err := s.writeIndirectEntry(root, step, child); err != nil {
				return err
			}
		}
		root = child
	}
	return s.writeIndirectEntry(root, path[len(path)-1], pb)
}
