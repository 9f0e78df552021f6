// File: internal/types/layout.go
package types

// Pblk is a physical block number on the backing device. Block 0 always
// holds the superblock, so 0 doubles as the "no block" sentinel inside
// inode pointer arrays.
type Pblk uint32

// Inum is an inode number. Inode 0 is never allocated; the root directory
// is always inode 1.
type Inum uint32

const (
	// NoBlock marks an unallocated pointer slot in an inode or indirect block.
	NoBlock Pblk = 0

	// NoInode marks a free directory entry slot (a tombstone).
	NoInode Inum = 0

	// RootInum is the inode number of the root directory on every volume.
	RootInum Inum = 1
)

// Magic identifies an indexfs superblock. Stored little-endian at the start
// of block 0.
const Magic uint32 = 0x69645846 // "idXF"

// Version is the current on-disk format version.
const Version uint16 = 1

// SuperblockBlock is the fixed, well-known block holding the superblock.
const SuperblockBlock Pblk = 0

const (
	// MinBlockSize and MaxBlockSize bound the formatted block size. The
	// block size must be a power of two. Directory record lengths are
	// 16-bit, so 32 KiB is the largest power of two a directory block
	// can span.
	MinBlockSize = 512
	MaxBlockSize = 32768

	// DefaultBlockSize is used by mkfs when no size is requested.
	DefaultBlockSize = 1024
)

// InodeType distinguishes the kinds of on-disk inode records.
type InodeType uint16

const (
	InodeFree InodeType = iota
	InodeFile
	InodeDirectory
)

func (t InodeType) String() string {
	switch t {
	case InodeFree:
		return "free"
	case InodeFile:
		return "file"
	case InodeDirectory:
		return "directory"
	default:
		return "invalid"
	}
}

const (
	// InodeSize is the fixed size of one on-disk inode record. Several
	// records pack into each block of the inode table.
	InodeSize = 64

	// DirectBlocks is the number of direct block pointers held in an inode.
	DirectBlocks = 8

	// PointerSize is the width of a block pointer inside an indirect block.
	PointerSize = 4
)

// InodeLive is set in DiskInode.Flags for every allocated inode and cleared
// when the record is freed. A set liveness flag with type InodeFree is
// treated as corruption.
const InodeLive uint16 = 1 << 0

// DiskInode is the fixed 64-byte on-disk inode record.
//
// The file size is carried as a (complete blocks, trailing bytes) pair:
// the byte size is Blocks*blockSize + Tail with Tail < blockSize.
// Directories always have Tail == 0.
type DiskInode struct {
	Type   InodeType
	Nlink  uint16
	Flags  uint16
	Blocks uint32 // number of complete data blocks
	Tail   uint32 // bytes used in the trailing partial block, if any
	Parent Inum   // containing directory; meaningful for directories only
	Direct [DirectBlocks]Pblk
	Single Pblk
	Double Pblk
	Triple Pblk
}

// Size returns the file size in bytes.
func (di *DiskInode) Size(blockSize uint32) uint64 {
	return uint64(di.Blocks)*uint64(blockSize) + uint64(di.Tail)
}

// NBlocks returns the number of data blocks the inode occupies, counting a
// trailing partial block as one.
func (di *DiskInode) NBlocks() uint32 {
	n := di.Blocks
	if di.Tail > 0 {
		n++
	}
	return n
}

// IsDirectory reports whether the inode describes a directory.
func (di DiskInode) IsDirectory() bool {
	return di.Type == InodeDirectory
}

// Superblock is the in-memory form of the volume descriptor stored at
// SuperblockBlock. It is loaded once at mount and never modified afterwards;
// resizing a volume is out of scope for this format.
type Superblock struct {
	Magic            uint32
	Version          uint16
	BlockSize        uint32
	TotalBlocks      Pblk
	BlockBitmapStart Pblk
	BlockBitmapLen   uint32 // in blocks
	InodeBitmapStart Pblk
	InodeBitmapLen   uint32 // in blocks
	InodeTableStart  Pblk
	InodeTableLen    uint32 // in blocks
	InodeCount       uint32
	Root             Inum
	UUID             [16]byte
	Label            string // up to LabelMax bytes
}

// LabelMax bounds the volume label stored in the superblock.
const LabelMax = 32

// SuperblockSize is the serialized size of the superblock record. The rest
// of block 0 is zero padding.
const SuperblockSize = 4 + 2 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 16 + 1 + LabelMax

// InodesPerBlock returns how many inode records fit in one block.
func (sb *Superblock) InodesPerBlock() uint32 {
	return sb.BlockSize / InodeSize
}

// PointersPerBlock returns how many block pointers fit in one indirect block.
func (sb *Superblock) PointersPerBlock() uint32 {
	return sb.BlockSize / PointerSize
}

// InodeLocation returns the block and intra-block byte offset of an inode
// record within the inode table.
func (sb *Superblock) InodeLocation(inum Inum) (Pblk, uint32) {
	// Inode numbers start at 1; slot 0 of the table is inode 1.
	slot := uint32(inum) - 1
	per := sb.InodesPerBlock()
	return sb.InodeTableStart + Pblk(slot/per), (slot % per) * InodeSize
}

// MaxFileBlocks returns the largest number of data blocks a single file can
// address through the direct and indirect pointers.
func (sb *Superblock) MaxFileBlocks() uint64 {
	ppb := uint64(sb.PointersPerBlock())
	return uint64(DirectBlocks) + ppb + ppb*ppb + ppb*ppb*ppb
}

const (
	// NameMax bounds a single directory entry name.
	NameMax = 255

	// DirentHeaderSize is the fixed header of an on-disk directory record:
	// inode number (4), record length (2), type tag (1), name length (1).
	DirentHeaderSize = 8

	// DirentAlign is the alignment of on-disk directory records within a
	// block. Record lengths are always a multiple of this.
	DirentAlign = 4

	// WireHeaderSize is the fixed header of one directory record in the
	// bulk-read wire encoding: inode number (4), type tag (1), name
	// length (1). Wire records carry no padding.
	WireHeaderSize = 6
)

// DirentRecLen returns the aligned on-disk record length needed for a name
// of the given length.
func DirentRecLen(nameLen int) uint16 {
	n := DirentHeaderSize + nameLen
	return uint16((n + DirentAlign - 1) &^ (DirentAlign - 1))
}

// Dirent is the in-memory form of one on-disk directory record.
type Dirent struct {
	Inum   Inum
	RecLen uint16
	Type   InodeType
	Name   string
}

// Live reports whether the record names an allocated inode, as opposed to a
// tombstoned or never-used slot.
func (d *Dirent) Live() bool {
	return d.Inum != NoInode
}
