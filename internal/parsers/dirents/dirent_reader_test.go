package dirents

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

var le = binary.LittleEndian

func TestInitFreeBlockTilesExactly(t *testing.T) {
	block := make([]byte, 512)
	require.NoError(t, InitFreeBlock(block, le))

	de, err := ParseDirent(block, 0, le)
	require.NoError(t, err)
	assert.False(t, de.Live())
	assert.Equal(t, uint16(512), de.RecLen, "free record must cover the whole block")
}

func TestDirentRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		entryName string
	}{
		{"short name", "a"},
		{"alignment boundary name", "abcd"}, // header+4 is already aligned
		{"longest name", strings.Repeat("n", types.NameMax)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := make([]byte, 1024)
			require.NoError(t, InitFreeBlock(block, le))

			in := types.Dirent{
				Inum:   77,
				RecLen: types.DirentRecLen(len(tt.entryName)),
				Type:   types.InodeFile,
				Name:   tt.entryName,
			}
			require.NoError(t, EncodeDirent(block, 0, in, le))

			out, err := ParseDirent(block, 0, le)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEncodeDirentRejectsBadRecords(t *testing.T) {
	block := make([]byte, 64)
	require.NoError(t, InitFreeBlock(block, le))

	tests := []struct {
		name string
		de   types.Dirent
		off  int
	}{
		{
			name: "record overflows block",
			de:   types.Dirent{Inum: 1, RecLen: 128, Name: "x"},
		},
		{
			name: "record length too small for name",
			de:   types.Dirent{Inum: 1, RecLen: 8, Name: "longername"},
		},
		{
			name: "unaligned record length",
			de:   types.Dirent{Inum: 1, RecLen: 14, Name: "x"},
		},
		{
			name: "negative offset",
			de:   types.Dirent{Inum: 1, RecLen: 12, Name: "x"},
			off:  -4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, EncodeDirent(block, tt.off, tt.de, le))
		})
	}
}

func TestParseDirentRejectsCorruptRecords(t *testing.T) {
	mk := func(recLen uint16, nameLen byte) []byte {
		block := make([]byte, 64)
		le.PutUint32(block[0:], 9)
		le.PutUint16(block[4:], recLen)
		block[6] = byte(types.InodeFile)
		block[7] = nameLen
		return block
	}

	tests := []struct {
		name  string
		block []byte
		off   int
	}{
		{"record spans block boundary", mk(128, 1), 0},
		{"record length below header size", mk(4, 0), 0},
		{"unaligned record length", mk(13, 1), 0},
		{"name overflows record", mk(12, 40), 0},
		{"offset past block end", mk(12, 1), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDirent(tt.block, tt.off, le)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrCorrupt)
		})
	}
}

func TestSetInumTombstonesInPlace(t *testing.T) {
	block := make([]byte, 128)
	require.NoError(t, InitFreeBlock(block, le))
	de := types.Dirent{Inum: 5, RecLen: 16, Type: types.InodeFile, Name: "victim"}
	require.NoError(t, EncodeDirent(block, 0, de, le))

	SetInum(block, 0, types.NoInode, le)

	out, err := ParseDirent(block, 0, le)
	require.NoError(t, err)
	assert.False(t, out.Live())
	assert.Equal(t, de.RecLen, out.RecLen, "tombstoning must preserve the slot size")
	assert.Equal(t, de.Name, out.Name, "tombstoning rewrites only the inode field")
}

func TestWireEncoding(t *testing.T) {
	var payload []byte
	entries := []types.Dirent{
		{Inum: 2, Type: types.InodeDirectory, Name: "lib"},
		{Inum: 9, Type: types.InodeFile, Name: "kernel.elf"},
		{Inum: 11, Type: types.InodeFile, Name: strings.Repeat("z", types.NameMax)},
	}
	for _, e := range entries {
		payload = AppendWire(payload, e, le)
	}

	off := 0
	for i, want := range entries {
		got, next, err := ParseWire(payload, off, le)
		require.NoError(t, err, "entry %d", i)
		assert.Equal(t, want.Inum, got.Inum)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, off+WireLen(want.Name), next)
		off = next
	}
	assert.Equal(t, len(payload), off, "payload must contain whole records only")

	_, _, err := ParseWire(payload, len(payload)-2, le)
	assert.ErrorIs(t, err, types.ErrCorrupt)
}
