package inodes

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func TestInodeRoundTrip(t *testing.T) {
	di := &types.DiskInode{
		Type:   types.InodeFile,
		Nlink:  2,
		Flags:  types.InodeLive,
		Blocks: 17,
		Tail:   300,
		Parent: 0,
		Single: 91,
		Double: 92,
	}
	for i := range di.Direct {
		di.Direct[i] = types.Pblk(40 + i)
	}

	buf := make([]byte, types.InodeSize)
	require.NoError(t, EncodeInode(di, buf, binary.LittleEndian))

	parsed, err := ParseInode(buf, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, di, parsed)
}

func TestParseInodeValidation(t *testing.T) {
	tests := []struct {
		name        string
		di          types.DiskInode
		expectError bool
	}{
		{
			name: "live file",
			di:   types.DiskInode{Type: types.InodeFile, Flags: types.InodeLive, Nlink: 1},
		},
		{
			name: "live directory",
			di:   types.DiskInode{Type: types.InodeDirectory, Flags: types.InodeLive, Nlink: 1},
		},
		{
			name: "free record",
			di:   types.DiskInode{Type: types.InodeFree},
		},
		{
			name:        "free record with liveness flag",
			di:          types.DiskInode{Type: types.InodeFree, Flags: types.InodeLive},
			expectError: true,
		},
		{
			name:        "allocated record without liveness flag",
			di:          types.DiskInode{Type: types.InodeFile, Nlink: 1},
			expectError: true,
		},
		{
			name:        "unknown type tag",
			di:          types.DiskInode{Type: 7, Flags: types.InodeLive},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, types.InodeSize)
			require.NoError(t, EncodeInode(&tt.di, buf, binary.LittleEndian))

			parsed, err := ParseInode(buf, binary.LittleEndian)
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrCorrupt)
			} else {
				require.NoError(t, err)
				assert.Equal(t, &tt.di, parsed)
			}
		})
	}
}

func TestParseInodeShortData(t *testing.T) {
	_, err := ParseInode(make([]byte, types.InodeSize-1), binary.LittleEndian)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCorrupt)
}

func TestIsDirectoryOnValue(t *testing.T) {
	// The predicate must work on a plain value, the form returned by
	// inode handle snapshots.
	assert.True(t, types.DiskInode{Type: types.InodeDirectory}.IsDirectory())
	assert.False(t, types.DiskInode{Type: types.InodeFile}.IsDirectory())
	assert.False(t, types.DiskInode{}.IsDirectory())
}

func TestDiskInodeSize(t *testing.T) {
	di := &types.DiskInode{Blocks: 3, Tail: 100}
	assert.Equal(t, uint64(3*1024+100), di.Size(1024))
	assert.Equal(t, uint32(4), di.NBlocks())

	exact := &types.DiskInode{Blocks: 3}
	assert.Equal(t, uint64(3*1024), exact.Size(1024))
	assert.Equal(t, uint32(3), exact.NBlocks())
}
