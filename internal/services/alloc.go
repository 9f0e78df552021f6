// File: internal/services/alloc.go
package services

import (
	"fmt"
	"sync"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/types"
)

// Allocator manages the block and inode free bitmaps through the page
// cache. Bit i of the block bitmap tracks physical block i; bit i of the
// inode bitmap tracks inode i+1. A set bit means in use. mkfs pre-sets the
// bits of every metadata block, so the allocator can never hand those out.
type Allocator struct {
	sb    *types.Superblock
	cache interfaces.BlockCache

	mu        sync.Mutex
	blockHint uint64 // bit index where the next block scan starts
	inodeHint uint64
}

// NewAllocator creates an allocator for a mounted volume.
func NewAllocator(sb *types.Superblock, cache interfaces.BlockCache) *Allocator {
	return &Allocator{sb: sb, cache: cache}
}

// AllocBlock reserves one free block and returns its number.
func (a *Allocator) AllocBlock() (types.Pblk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bit, err := a.allocBit(a.sb.BlockBitmapStart, uint64(a.sb.TotalBlocks), a.blockHint)
	if err != nil {
		return types.NoBlock, fmt.Errorf("block allocation: %w", err)
	}
	a.blockHint = bit + 1
	return types.Pblk(bit), nil
}

// FreeBlock returns a block to the free pool.
func (a *Allocator) FreeBlock(pb types.Pblk) error {
	if uint64(pb) >= uint64(a.sb.TotalBlocks) {
		return fmt.Errorf("freeing block %d outside volume: %w", pb, types.ErrCorrupt)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.clearBit(a.sb.BlockBitmapStart, uint64(pb)); err != nil {
		return err
	}
	if uint64(pb) < a.blockHint {
		a.blockHint = uint64(pb)
	}
	return nil
}

// AllocInode reserves one free inode number.
func (a *Allocator) AllocInode() (types.Inum, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bit, err := a.allocBit(a.sb.InodeBitmapStart, uint64(a.sb.InodeCount), a.inodeHint)
	if err != nil {
		return types.NoInode, fmt.Errorf("inode allocation: %w", err)
	}
	a.inodeHint = bit + 1
	return types.Inum(bit + 1), nil
}

// FreeInode returns an inode number to the free pool. Legal only once both
// the link count and the open-handle count have reached zero; the inode
// store enforces that ordering.
func (a *Allocator) FreeInode(inum types.Inum) error {
	if inum == types.NoInode || uint32(inum) > a.sb.InodeCount {
		return fmt.Errorf("freeing inode %d outside table: %w", inum, types.ErrCorrupt)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	bit := uint64(inum) - 1
	if err := a.clearBit(a.sb.InodeBitmapStart, bit); err != nil {
		return err
	}
	if bit < a.inodeHint {
		a.inodeHint = bit
	}
	return nil
}

// allocBit finds, sets and returns the first clear bit in a bitmap region,
// scanning from the hint and wrapping once. nbits bounds the scan; the
// region's trailing padding bits are never considered. Called with a.mu
// held.
func (a *Allocator) allocBit(start types.Pblk, nbits, hint uint64) (uint64, error) {
	if hint >= nbits {
		hint = 0
	}
	bitsPerBlock := uint64(a.sb.BlockSize) * 8

	scan := func(from, to uint64) (uint64, bool, error) {
		for bit := from; bit < to; {
			blk := start + types.Pblk(bit/bitsPerBlock)
			buf, err := a.cache.Acquire(blk)
			if err != nil {
				return 0, false, err
			}
			data := buf.Data()

			found := false
			limit := (bit/bitsPerBlock + 1) * bitsPerBlock
			if limit > to {
				limit = to
			}
			for ; bit < limit; bit++ {
				idx := bit % bitsPerBlock
				if data[idx/8]&(1<<(idx%8)) == 0 {
					data[idx/8] |= 1 << (idx % 8)
					found = true
					break
				}
			}
			a.cache.Release(buf, found)
			if found {
				return bit, true, nil
			}
		}
		return 0, false, nil
	}

	bit, ok, err := scan(hint, nbits)
	if err != nil {
		return 0, err
	}
	if !ok && hint > 0 {
		bit, ok, err = scan(0, hint)
		if err != nil {
			return 0, err
		}
	}
	if !ok {
		return 0, types.ErrNoSpace
	}
	return bit, nil
}

// clearBit clears one bit in a bitmap region. Called with a.mu held.
func (a *Allocator) clearBit(start types.Pblk, bit uint64) error {
	bitsPerBlock := uint64(a.sb.BlockSize) * 8
	blk := start + types.Pblk(bit/bitsPerBlock)
	buf, err := a.cache.Acquire(blk)
	if err != nil {
		return err
	}
	idx := bit % bitsPerBlock
	data := buf.Data()
	wasSet := data[idx/8]&(1<<(idx%8)) != 0
	data[idx/8] &^= 1 << (idx % 8)
	a.cache.Release(buf, wasSet)
	if !wasSet {
		return fmt.Errorf("double free of bitmap bit %d: %w", bit, types.ErrCorrupt)
	}
	return nil
}
