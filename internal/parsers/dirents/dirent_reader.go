// File: internal/parsers/dirents/dirent_reader.go
//
// On-disk directory record layout, packed sequentially inside each data
// block of a directory:
//
//	inode number  uint32   0 = free/tombstoned slot
//	record length uint16   multiple of DirentAlign, never spans the block
//	type tag      uint8
//	name length   uint8
//	name bytes    nameLen  followed by padding up to record length
//
// Records plus their padding exactly tile each block: a fresh directory
// block is a single free record covering the whole block, inserts split
// free records, and slack at a block's tail stays inside the last record's
// length so a scan can always step from record to record.
package dirents

import (
	"encoding/binary"
	"fmt"

	"github.com/liamnaddell/indexfs/internal/types"
)

// ParseDirent decodes the record starting at off within a directory block.
// Bounds are checked so a damaged record cannot send a scan out of the
// block.
func ParseDirent(block []byte, off int, endian binary.ByteOrder) (types.Dirent, error) {
	var de types.Dirent
	if off < 0 || off+types.DirentHeaderSize > len(block) {
		return de, fmt.Errorf("dirent header at %d outside block of %d bytes: %w", off, len(block), types.ErrCorrupt)
	}

	de.Inum = types.Inum(endian.Uint32(block[off : off+4]))
	de.RecLen = endian.Uint16(block[off+4 : off+6])
	de.Type = types.InodeType(block[off+6])
	nameLen := int(block[off+7])

	if de.RecLen < types.DirentHeaderSize || de.RecLen%types.DirentAlign != 0 {
		return de, fmt.Errorf("dirent at %d has bad record length %d: %w", off, de.RecLen, types.ErrCorrupt)
	}
	if off+int(de.RecLen) > len(block) {
		return de, fmt.Errorf("dirent at %d spans block boundary: %w", off, types.ErrCorrupt)
	}
	if types.DirentHeaderSize+nameLen > int(de.RecLen) {
		return de, fmt.Errorf("dirent at %d name of %d bytes overflows record: %w", off, nameLen, types.ErrCorrupt)
	}

	de.Name = string(block[off+types.DirentHeaderSize : off+types.DirentHeaderSize+nameLen])
	return de, nil
}

// EncodeDirent writes a record at off. The record length must already be
// aligned and fit within the block.
func EncodeDirent(block []byte, off int, de types.Dirent, endian binary.ByteOrder) error {
	if len(de.Name) > types.NameMax {
		return fmt.Errorf("name of %d bytes exceeds maximum %d: %w", len(de.Name), types.NameMax, types.ErrNameTooLong)
	}
	if de.RecLen < types.DirentRecLen(len(de.Name)) || de.RecLen%types.DirentAlign != 0 {
		return fmt.Errorf("record length %d cannot hold name of %d bytes", de.RecLen, len(de.Name))
	}
	if off < 0 || off+int(de.RecLen) > len(block) {
		return fmt.Errorf("record [%d,+%d) outside block of %d bytes", off, de.RecLen, len(block))
	}

	endian.PutUint32(block[off:], uint32(de.Inum))
	endian.PutUint16(block[off+4:], de.RecLen)
	block[off+6] = byte(de.Type)
	block[off+7] = byte(len(de.Name))
	n := copy(block[off+types.DirentHeaderSize:], de.Name)

	// Zero the padding so freed name bytes never leak to readers.
	for i := off + types.DirentHeaderSize + n; i < off+int(de.RecLen); i++ {
		block[i] = 0
	}
	return nil
}

// SetInum rewrites only the inode-number field of the record at off. This
// is the single bounded store a concurrent lockless scan may observe
// mid-flight: the slot is either still linked or already tombstoned, both
// valid orderings for a logically concurrent lookup.
func SetInum(block []byte, off int, inum types.Inum, endian binary.ByteOrder) {
	endian.PutUint32(block[off:], uint32(inum))
}

// InitFreeBlock formats a fresh directory block as one free record covering
// the entire block.
func InitFreeBlock(block []byte, endian binary.ByteOrder) error {
	if len(block) > 0xFFFF || len(block) < types.DirentHeaderSize {
		return fmt.Errorf("block of %d bytes cannot be a directory block", len(block))
	}
	for i := range block {
		block[i] = 0
	}
	endian.PutUint32(block[0:], uint32(types.NoInode))
	endian.PutUint16(block[4:], uint16(len(block)))
	return nil
}

// AppendWire appends one record in the bulk-read wire encoding:
// {inode uint32, type uint8, nameLen uint8, name} with no padding.
func AppendWire(dst []byte, de types.Dirent, endian binary.ByteOrder) []byte {
	var hdr [types.WireHeaderSize]byte
	endian.PutUint32(hdr[0:], uint32(de.Inum))
	hdr[4] = byte(de.Type)
	hdr[5] = byte(len(de.Name))
	dst = append(dst, hdr[:]...)
	return append(dst, de.Name...)
}

// WireLen returns the wire-encoded size of a record with the given name.
func WireLen(name string) int {
	return types.WireHeaderSize + len(name)
}

// ParseWire decodes the wire record at off, returning the entry and the
// offset of the next record. Used by tests and by client-side iteration.
func ParseWire(payload []byte, off int, endian binary.ByteOrder) (types.Dirent, int, error) {
	var de types.Dirent
	if off < 0 || off+types.WireHeaderSize > len(payload) {
		return de, 0, fmt.Errorf("wire record header at %d outside payload of %d bytes: %w", off, len(payload), types.ErrCorrupt)
	}
	de.Inum = types.Inum(endian.Uint32(payload[off : off+4]))
	de.Type = types.InodeType(payload[off+4])
	nameLen := int(payload[off+5])
	if off+types.WireHeaderSize+nameLen > len(payload) {
		return de, 0, fmt.Errorf("wire record at %d truncated: %w", off, types.ErrCorrupt)
	}
	de.Name = string(payload[off+types.WireHeaderSize : off+types.WireHeaderSize+nameLen])
	return de, off + types.WireHeaderSize + nameLen, nil
}
