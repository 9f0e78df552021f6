// File: internal/services/mkfs.go
package services

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/parsers/inodes"
	"github.com/liamnaddell/indexfs/internal/parsers/volume"
	"github.com/liamnaddell/indexfs/internal/types"
)

// MkfsOptions controls volume creation.
type MkfsOptions struct {
	// Label is the human-readable volume name, up to LabelMax bytes.
	Label string

	// InodeCount is the size of the inode table. Zero picks one inode
	// per four data blocks, with a small floor.
	InodeCount uint32
}

// Mkfs writes a fresh, empty filesystem onto the device: superblock, free
// bitmaps with every metadata block pre-marked used, a zeroed inode table,
// and a root directory with no data blocks. Writes go straight to the
// device; there is nothing to cache yet.
func Mkfs(dev interfaces.BlockDevice, opts MkfsOptions) (*types.Superblock, error) {
	endian := binary.LittleEndian
	bs := dev.BlockSize()
	total := dev.TotalBlocks()

	if len(opts.Label) > types.LabelMax {
		return nil, fmt.Errorf("label %q exceeds %d bytes", opts.Label, types.LabelMax)
	}

	inodeCount := opts.InodeCount
	if inodeCount == 0 {
		inodeCount = uint32(total) / 4
		if inodeCount < 16 {
			inodeCount = 16
		}
	}

	bitsPerBlock := bs * 8
	ipb := bs / types.InodeSize
	blockBitmapLen := ceilDiv(uint32(total), bitsPerBlock)
	inodeBitmapLen := ceilDiv(inodeCount, bitsPerBlock)
	inodeTableLen := ceilDiv(inodeCount, ipb)

	sb := &types.Superblock{
		Magic:            types.Magic,
		Version:          types.Version,
		BlockSize:        bs,
		TotalBlocks:      total,
		BlockBitmapStart: 1,
		BlockBitmapLen:   blockBitmapLen,
		InodeBitmapStart: 1 + types.Pblk(blockBitmapLen),
		InodeBitmapLen:   inodeBitmapLen,
		InodeTableStart:  1 + types.Pblk(blockBitmapLen+inodeBitmapLen),
		InodeTableLen:    inodeTableLen,
		InodeCount:       inodeCount,
		Root:             types.RootInum,
	}
	sb.Label = opts.Label
	id := uuid.New()
	copy(sb.UUID[:], id[:])

	dataStart := uint64(sb.InodeTableStart) + uint64(inodeTableLen)
	if dataStart >= uint64(total) {
		return nil, fmt.Errorf("device of %d blocks too small for metadata of %d blocks", total, dataStart)
	}

	// Superblock.
	sbBlock, err := volume.EncodeSuperblock(sb, endian)
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBlocks(types.SuperblockBlock, sbBlock); err != nil {
		return nil, err
	}

	// Block bitmap: bits for every metadata block are pre-set so the
	// allocator can never hand them out.
	if err := writeBitmap(dev, sb.BlockBitmapStart, blockBitmapLen, dataStart); err != nil {
		return nil, err
	}

	// Inode bitmap: only the root inode (bit 0) is used.
	if err := writeBitmap(dev, sb.InodeBitmapStart, inodeBitmapLen, 1); err != nil {
		return nil, err
	}

	// Zeroed inode table with the root directory in slot 0.
	zero := make([]byte, bs)
	for i := uint32(0); i < inodeTableLen; i++ {
		block := zero
		if i == 0 {
			block = make([]byte, bs)
			root := &types.DiskInode{
				Type:   types.InodeDirectory,
				Nlink:  1,
				Flags:  types.InodeLive,
				Parent: types.RootInum,
			}
			if err := inodes.EncodeInode(root, block, endian); err != nil {
				return nil, err
			}
		}
		if err := dev.WriteBlocks(sb.InodeTableStart+types.Pblk(i), block); err != nil {
			return nil, err
		}
	}

	if err := dev.Sync(); err != nil {
		return nil, err
	}
	return sb, nil
}

// writeBitmap writes a bitmap region with the first usedBits bits set and
// the rest clear.
func writeBitmap(dev interfaces.BlockDevice, start types.Pblk, blocks uint32, usedBits uint64) error {
	bs := dev.BlockSize()
	bitsPerBlock := uint64(bs) * 8

	for i := uint32(0); i < blocks; i++ {
		block := make([]byte, bs)
		base := uint64(i) * bitsPerBlock
		for bit := uint64(0); bit < bitsPerBlock && base+bit < usedBits; bit++ {
			block[bit/8] |= 1 << (bit % 8)
		}
		if err := dev.WriteBlocks(start+types.Pblk(i), block); err != nil {
			return err
		}
	}
	return nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
