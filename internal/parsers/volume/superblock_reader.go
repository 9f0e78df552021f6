// File: internal/parsers/volume/superblock_reader.go
package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/liamnaddell/indexfs/internal/types"
)

// ParseSuperblock parses the raw contents of block 0 into a Superblock
// structure and validates it. The magic value is checked first so callers
// can distinguish "not our filesystem" from "ours but damaged".
func ParseSuperblock(data []byte, endian binary.ByteOrder) (*types.Superblock, error) {
	if len(data) < types.SuperblockSize {
		return nil, fmt.Errorf("data too small for superblock: %d bytes: %w", len(data), types.ErrCorrupt)
	}

	sb := &types.Superblock{}
	offset := 0

	sb.Magic = endian.Uint32(data[offset : offset+4])
	offset += 4
	if sb.Magic != types.Magic {
		return nil, fmt.Errorf("invalid superblock magic: got 0x%08X, want 0x%08X: %w", sb.Magic, types.Magic, types.ErrCorrupt)
	}

	sb.Version = endian.Uint16(data[offset : offset+2])
	offset += 2
	offset += 2 // reserved

	sb.BlockSize = endian.Uint32(data[offset : offset+4])
	offset += 4
	sb.TotalBlocks = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	sb.BlockBitmapStart = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	sb.BlockBitmapLen = endian.Uint32(data[offset : offset+4])
	offset += 4
	sb.InodeBitmapStart = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	sb.InodeBitmapLen = endian.Uint32(data[offset : offset+4])
	offset += 4
	sb.InodeTableStart = types.Pblk(endian.Uint32(data[offset : offset+4]))
	offset += 4
	sb.InodeTableLen = endian.Uint32(data[offset : offset+4])
	offset += 4
	sb.InodeCount = endian.Uint32(data[offset : offset+4])
	offset += 4
	sb.Root = types.Inum(endian.Uint32(data[offset : offset+4]))
	offset += 4

	copy(sb.UUID[:], data[offset:offset+16])
	offset += 16

	labelLen := int(data[offset])
	offset++
	if labelLen > types.LabelMax {
		return nil, fmt.Errorf("label length %d exceeds maximum %d: %w", labelLen, types.LabelMax, types.ErrCorrupt)
	}
	sb.Label = string(data[offset : offset+labelLen])

	if err := validateSuperblock(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// validateSuperblock performs the structural checks that make a recognized
// superblock safe to mount.
func validateSuperblock(sb *types.Superblock) error {
	if sb.Version != types.Version {
		return fmt.Errorf("unsupported format version %d: %w", sb.Version, types.ErrCorrupt)
	}
	bs := sb.BlockSize
	if bs < types.MinBlockSize || bs > types.MaxBlockSize || bs&(bs-1) != 0 {
		return fmt.Errorf("invalid block size %d: %w", bs, types.ErrCorrupt)
	}
	if sb.TotalBlocks == 0 {
		return fmt.Errorf("zero total blocks: %w", types.ErrCorrupt)
	}
	if sb.InodeCount == 0 || sb.Root == types.NoInode || uint32(sb.Root) > sb.InodeCount {
		return fmt.Errorf("invalid root inode %d of %d: %w", sb.Root, sb.InodeCount, types.ErrCorrupt)
	}

	// Every region must live inside the device.
	regions := []struct {
		name  string
		start types.Pblk
		len   uint32
	}{
		{"block bitmap", sb.BlockBitmapStart, sb.BlockBitmapLen},
		{"inode bitmap", sb.InodeBitmapStart, sb.InodeBitmapLen},
		{"inode table", sb.InodeTableStart, sb.InodeTableLen},
	}
	for _, r := range regions {
		if r.len == 0 || r.start == 0 || uint64(r.start)+uint64(r.len) > uint64(sb.TotalBlocks) {
			return fmt.Errorf("%s region [%d,+%d) outside volume of %d blocks: %w",
				r.name, r.start, r.len, sb.TotalBlocks, types.ErrCorrupt)
		}
	}

	// The inode table must be large enough for the advertised inode count.
	if uint64(sb.InodeTableLen)*uint64(sb.InodesPerBlock()) < uint64(sb.InodeCount) {
		return fmt.Errorf("inode table of %d blocks cannot hold %d inodes: %w",
			sb.InodeTableLen, sb.InodeCount, types.ErrCorrupt)
	}
	return nil
}

// EncodeSuperblock serializes a superblock into a full block-sized buffer,
// zero padded past SuperblockSize.
func EncodeSuperblock(sb *types.Superblock, endian binary.ByteOrder) ([]byte, error) {
	if len(sb.Label) > types.LabelMax {
		return nil, fmt.Errorf("label %q exceeds %d bytes", sb.Label, types.LabelMax)
	}
	if sb.BlockSize < types.SuperblockSize {
		return nil, fmt.Errorf("block size %d cannot hold superblock", sb.BlockSize)
	}

	data := make([]byte, sb.BlockSize)
	offset := 0

	endian.PutUint32(data[offset:], sb.Magic)
	offset += 4
	endian.PutUint16(data[offset:], sb.Version)
	offset += 2
	offset += 2 // reserved

	for _, v := range []uint32{
		sb.BlockSize,
		uint32(sb.TotalBlocks),
		uint32(sb.BlockBitmapStart),
		sb.BlockBitmapLen,
		uint32(sb.InodeBitmapStart),
		sb.InodeBitmapLen,
		uint32(sb.InodeTableStart),
		sb.InodeTableLen,
		sb.InodeCount,
		uint32(sb.Root),
	} {
		endian.PutUint32(data[offset:], v)
		offset += 4
	}

	copy(data[offset:], sb.UUID[:])
	offset += 16

	data[offset] = byte(len(sb.Label))
	offset++
	copy(data[offset:], sb.Label)

	return data, nil
}

// ProbeResult classifies the first block of a device during the mount
// handshake.
type ProbeResult int

const (
	// ProbeRecognized means the block carries a valid indexfs superblock.
	ProbeRecognized ProbeResult = iota

	// ProbeNotMine means the magic value belongs to some other filesystem.
	ProbeNotMine

	// ProbeCorrupt means the magic matched but the superblock is damaged.
	ProbeCorrupt
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeRecognized:
		return "RECOGNIZED"
	case ProbeNotMine:
		return "NOT_MINE"
	case ProbeCorrupt:
		return "CORRUPT"
	default:
		return "INVALID"
	}
}

// Probe inspects a candidate first block and classifies it without
// requiring that the rest of the volume be readable.
func Probe(firstBlock []byte, endian binary.ByteOrder) ProbeResult {
	if len(firstBlock) < 4 || endian.Uint32(firstBlock[:4]) != types.Magic {
		return ProbeNotMine
	}
	if _, err := ParseSuperblock(firstBlock, endian); err != nil {
		return ProbeCorrupt
	}
	return ProbeRecognized
}

// Equal reports whether two superblocks describe the same layout. Used by
// tests and by fsck-style verification.
func Equal(a, b *types.Superblock) bool {
	return a.Magic == b.Magic &&
		a.Version == b.Version &&
		a.BlockSize == b.BlockSize &&
		a.TotalBlocks == b.TotalBlocks &&
		a.BlockBitmapStart == b.BlockBitmapStart &&
		a.BlockBitmapLen == b.BlockBitmapLen &&
		a.InodeBitmapStart == b.InodeBitmapStart &&
		a.InodeBitmapLen == b.InodeBitmapLen &&
		a.InodeTableStart == b.InodeTableStart &&
		a.InodeTableLen == b.InodeTableLen &&
		a.InodeCount == b.InodeCount &&
		a.Root == b.Root &&
		bytes.Equal(a.UUID[:], b.UUID[:]) &&
		a.Label == b.Label
}
