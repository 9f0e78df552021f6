// File: internal/parsers/inodes/inode_reader.go
package inodes

import (
	"encoding/binary"
	"fmt"

	"github.com/liamnaddell/indexfs/internal/types"
)

// ParseInode parses one fixed-size inode record. A free record (type
// InodeFree, liveness flag clear) parses successfully; callers decide
// whether a free inode is acceptable in context.
func ParseInode(data []byte, endian binary.ByteOrder) (*types.DiskInode, error) {
	if len(data) < types.InodeSize {
		return nil, fmt.Errorf("data too small for inode record: %d bytes: %w", len(data), types.ErrCorrupt)
	}

	di := &types.DiskInode{}
	offset := 0

	di.Type = types.InodeType(endian.Uint16(data[offset : offset+2]))
	offset += 2
	di.Nlink = endian.Uint16(data[offset : offset+2])
	offset += 2
	di.Flags = endian.Uint16(data[offset : offset+2])
	offset += 2
	offset += 2 // reserved

	di.Blocks = endian.Uint32(data[offset : offset+4])
	offset += 4
	di.Tail = endian.Uint32(data[offset : offset+4])
	offset += 4
	di.Parent = types.Inum(endian.Uint32(data[offset : offset+4]))
	offset += 4

	for i := 0; i < types.DirectBlocks; i++ {
		di.Direct[i] = types.Pblk(endian.Uint32(data[offset : offset+4]))
		offset += 4
	}
	di.Single = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	di.Double = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	di.Triple = types.Pblk(endian.Uint32(data[offset : offset+4]))

	if err := validateInode(di); err != nil {
		return nil, err
	}
	return di, nil
}

// validateInode rejects records that cannot have been written by this
// implementation.
func validateInode(di *types.DiskInode) error {
	switch di.Type {
	case types.InodeFree:
		if di.Flags&types.InodeLive != 0 {
			return fmt.Errorf("free inode carries liveness flag: %w", types.ErrCorrupt)
		}
	case types.InodeFile, types.InodeDirectory:
		if di.Flags&types.InodeLive == 0 {
			return fmt.Errorf("allocated inode missing liveness flag: %w", types.ErrCorrupt)
		}
	default:
		return fmt.Errorf("invalid inode type %d: %w", di.Type, types.ErrCorrupt)
	}
	return nil
}

// EncodeInode serializes an inode record into dst, which must be at least
// InodeSize bytes.
func EncodeInode(di *types.DiskInode, dst []byte, endian binary.ByteOrder) error {
	if len(dst) < types.InodeSize {
		return fmt.Errorf("destination too small for inode record: %d bytes", len(dst))
	}

	offset := 0
	endian.PutUint16(dst[offset:], uint16(di.Type))
	offset += 2
	endian.PutUint16(dst[offset:], di.Nlink)
	offset += 2
	endian.PutUint16(dst[offset:], di.Flags)
	offset += 2
	endian.PutUint16(dst[offset:], 0) // reserved
	offset += 2

	endian.PutUint32(dst[offset:], di.Blocks)
	offset += 4
	endian.PutUint32(dst[offset:], di.Tail)
	offset += 4
	endian.PutUint32(dst[offset:], uint32(di.Parent))
	offset += 4

	for i := 0; i < types.DirectBlocks; i++ {
		endian.PutUint32(dst[offset:], uint32(di.Direct[i]))
		offset += 4
	}
	endian.PutUint32(dst[offset:], uint32(di.Single))
	offset += 4
	endian.PutUint32(dst[offset:], uint32(di.Double))
	offset += 4
	endian.PutUint32(dst[offset:], uint32(di.Triple))

	return nil
}
