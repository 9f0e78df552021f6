// File: internal/services/alloc_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func TestAllocBlockSkipsMetadata(t *testing.T) {
	vol, _ := newTestVolume(t)
	sb := vol.Superblock()

	dataStart := uint64(sb.InodeTableStart) + uint64(sb.InodeTableLen)
	seen := make(map[types.Pblk]bool)
	for i := 0; i < 32; i++ {
		pb, err := vol.Alloc.AllocBlock()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, uint64(pb), dataStart, "allocator handed out a metadata block")
		assert.False(t, seen[pb], "block %d allocated twice", pb)
		seen[pb] = true
	}
}

func TestFreeBlockAllowsReuse(t *testing.T) {
	vol, _ := newTestVolume(t)

	pb, err := vol.Alloc.AllocBlock()
	require.NoError(t, err)
	require.NoError(t, vol.Alloc.FreeBlock(pb))

	again, err := vol.Alloc.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, pb, again, "freed block should be the next candidate")
}

func TestFreeBlockDoubleFree(t *testing.T) {
	vol, _ := newTestVolume(t)

	pb, err := vol.Alloc.AllocBlock()
	require.NoError(t, err)
	require.NoError(t, vol.Alloc.FreeBlock(pb))

	err = vol.Alloc.FreeBlock(pb)
	assert.ErrorIs(t, err, types.ErrCorrupt)
}

func TestFreeBlockOutsideVolume(t *testing.T) {
	vol, _ := newTestVolume(t)
	err := vol.Alloc.FreeBlock(types.Pblk(vol.Superblock().TotalBlocks))
	assert.ErrorIs(t, err, types.ErrCorrupt)
}

func TestAllocInodeExhaustion(t *testing.T) {
	dev := newTestDevice(t)
	_, err := Mkfs(dev, MkfsOptions{InodeCount: 16})
	require.NoError(t, err)
	vol, err := MountVolume(dev, DefaultVolumeConfig())
	require.NoError(t, err)
	defer vol.Close()

	// The root directory holds inode 1; fifteen remain.
	for i := 0; i < 15; i++ {
		inum, err := vol.Alloc.AllocInode()
		require.NoError(t, err)
		assert.NotEqual(t, types.RootInum, inum)
	}
	_, err = vol.Alloc.AllocInode()
	assert.ErrorIs(t, err, types.ErrNoSpace)

	// Freeing one makes the next allocation succeed again.
	require.NoError(t, vol.Alloc.FreeInode(types.Inum(5)))
	inum, err := vol.Alloc.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, types.Inum(5), inum)
}

func TestAllocInodeNeverReturnsRoot(t *testing.T) {
	vol, _ := newTestVolume(t)
	for i := 0; i < 20; i++ {
		inum, err := vol.Alloc.AllocInode()
		require.NoError(t, err)
		assert.NotEqual(t, types.RootInum, inum)
	}
}
