// File: internal/services/inode_store_test.go
package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func newTestFile(t *testing.T, vol *Volume) *Inode {
	t.Helper()
	h, err := vol.Inodes.Allocate(types.InodeFile, types.RootInum)
	require.NoError(t, err)
	return h.(*Inode)
}

func TestAllocateGetPutRoundTrip(t *testing.T) {
	vol, _ := newTestVolume(t)

	ip := newTestFile(t, vol)
	inum := ip.Num()
	assert.Equal(t, types.InodeFile, ip.Disk().Type)
	assert.Equal(t, uint16(1), ip.Disk().Nlink)
	assert.Equal(t, types.RootInum, ip.Disk().Parent)
	require.NoError(t, vol.Inodes.Put(ip))

	// Re-read from disk through a fresh reference.
	h, err := vol.Inodes.Get(inum)
	require.NoError(t, err)
	di := h.(*Inode).Disk()
	assert.Equal(t, types.InodeFile, di.Type)
	assert.Equal(t, types.RootInum, di.Parent)
	require.NoError(t, vol.Inodes.Put(h))
}

func TestGetSharesOneInstance(t *testing.T) {
	vol, _ := newTestVolume(t)

	ip := newTestFile(t, vol)
	h, err := vol.Inodes.Get(ip.Num())
	require.NoError(t, err)
	assert.Same(t, ip, h.(*Inode), "two references to one inode must share state")
	require.NoError(t, vol.Inodes.Put(h))
	require.NoError(t, vol.Inodes.Put(ip))
}

func TestGetRejectsBadInum(t *testing.T) {
	vol, _ := newTestVolume(t)

	_, err := vol.Inodes.Get(types.NoInode)
	assert.ErrorIs(t, err, types.ErrCorrupt)

	_, err = vol.Inodes.Get(types.Inum(vol.Superblock().InodeCount + 1))
	assert.ErrorIs(t, err, types.ErrCorrupt)

	// In range but never allocated.
	_, err = vol.Inodes.Get(types.Inum(vol.Superblock().InodeCount))
	assert.ErrorIs(t, err, types.ErrCorrupt)
}

func TestGrowAcrossDirectBoundary(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	// Fill the direct slots and spill into the single indirect.
	var blocks []types.Pblk
	for i := 0; i < types.DirectBlocks+2; i++ {
		pb, err := vol.Inodes.Grow(ip)
		require.NoError(t, err)
		require.NotEqual(t, types.NoBlock, pb)
		blocks = append(blocks, pb)
	}

	di := ip.Disk()
	assert.Equal(t, uint32(types.DirectBlocks+2), di.Blocks)
	assert.NotEqual(t, types.NoBlock, di.Single)

	for i, want := range blocks {
		got, err := vol.Inodes.ResolveBlock(ip, uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "logical block %d", i)
	}

	// Past the allocated region.
	pb, err := vol.Inodes.ResolveBlock(ip, uint64(len(blocks)))
	require.NoError(t, err)
	assert.Equal(t, types.NoBlock, pb)
}

func TestGrowAcrossSingleIndirectBoundary(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	ppb := int(vol.Superblock().PointersPerBlock())
	total := types.DirectBlocks + ppb + 1
	for i := 0; i < total; i++ {
		_, err := vol.Inodes.Grow(ip)
		require.NoError(t, err)
	}

	di := ip.Disk()
	assert.Equal(t, uint32(total), di.Blocks)
	assert.NotEqual(t, types.NoBlock, di.Double, "spill past the single indirect must open the double")

	// The last block resolves through the double indirect chain.
	pb, err := vol.Inodes.ResolveBlock(ip, uint64(total-1))
	require.NoError(t, err)
	assert.NotEqual(t, types.NoBlock, pb)
}

func TestWriteReadRoundTrip(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 200) // 3200 bytes, several blocks
	n, err := vol.Inodes.WriteAt(ip, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	di := ip.Disk()
	assert.Equal(t, uint64(len(payload)), di.Size(vol.Superblock().BlockSize))

	got, err := vol.Inodes.ReadAt(ip, 0, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Unaligned interior read.
	got, err = vol.Inodes.ReadAt(ip, 700, 900)
	require.NoError(t, err)
	assert.Equal(t, payload[700:1600], got)
}

func TestWriteAppendAndOverwrite(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	_, err := vol.Inodes.WriteAt(ip, 0, []byte("hello "))
	require.NoError(t, err)
	_, err = vol.Inodes.WriteAt(ip, 6, []byte("world"))
	require.NoError(t, err)
	_, err = vol.Inodes.WriteAt(ip, 0, []byte("HELLO"))
	require.NoError(t, err)

	got, err := vol.Inodes.ReadAt(ip, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO world"), got)
}

func TestWritePastEndIsRejected(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	_, err := vol.Inodes.WriteAt(ip, 10, []byte("gap"))
	require.Error(t, err, "a write past the end would create a hole")
}

func TestReadPastEndIsEmpty(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	_, err := vol.Inodes.WriteAt(ip, 0, []byte("short"))
	require.NoError(t, err)

	got, err := vol.Inodes.ReadAt(ip, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = vol.Inodes.ReadAt(ip, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Clipped, not failed.
	got, err = vol.Inodes.ReadAt(ip, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("rt"), got)
}

func TestGrowRejectsPartialTrailingBlock(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	_, err := vol.Inodes.WriteAt(ip, 0, []byte("partial"))
	require.NoError(t, err)

	_, err = vol.Inodes.Grow(ip)
	require.Error(t, err)
}

func TestExtensionBusyWhileLocked(t *testing.T) {
	vol, _ := newTestVolume(t)
	ip := newTestFile(t, vol)
	defer vol.Inodes.Put(ip)

	// A held extension lock makes grow and write report ErrBusy rather
	// than queue behind the extension in flight.
	ip.extMu.Lock()
	_, err := vol.Inodes.Grow(ip)
	assert.ErrorIs(t, err, types.ErrBusy)
	_, err = vol.Inodes.WriteAt(ip, 0, []byte("blocked"))
	assert.ErrorIs(t, err, types.ErrBusy)

	// Reads of committed data are lockless.
	got, err := vol.Inodes.ReadAt(ip, 0, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
	ip.extMu.Unlock()

	_, err = vol.Inodes.WriteAt(ip, 0, []byte("unblocked"))
	require.NoError(t, err)
}

func TestReclaimOnLastPut(t *testing.T) {
	vol, _ := newTestVolume(t)

	ip := newTestFile(t, vol)
	inum := ip.Num()
	_, err := vol.Inodes.WriteAt(ip, 0, bytes.Repeat([]byte("x"), 2048))
	require.NoError(t, err)

	// Sever the last link; the final put reclaims.
	ip.mu.Lock()
	ip.disk.Nlink = 0
	ip.dirty = true
	ip.mu.Unlock()
	require.NoError(t, vol.Inodes.Put(ip))

	_, err = vol.Inodes.Get(inum)
	assert.ErrorIs(t, err, types.ErrCorrupt, "reclaimed inode reads as free")

	// The inode number returns to the free pool.
	again, err := vol.Inodes.Allocate(types.InodeFile, types.RootInum)
	require.NoError(t, err)
	assert.Equal(t, inum, again.(*Inode).Num())
	require.NoError(t, vol.Inodes.Put(again))
}

func TestDataSurvivesRemount(t *testing.T) {
	dev := newTestDevice(t)
	_, err := Mkfs(dev, MkfsOptions{})
	require.NoError(t, err)

	vol, err := MountVolume(dev, DefaultVolumeConfig())
	require.NoError(t, err)

	h, err := vol.Inodes.Allocate(types.InodeFile, types.RootInum)
	require.NoError(t, err)
	inum := h.(*Inode).Num()
	_, err = vol.Inodes.WriteAt(h, 0, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, vol.Inodes.Put(h))
	require.NoError(t, vol.Close())

	vol, err = MountVolume(dev, DefaultVolumeConfig())
	require.NoError(t, err)
	defer vol.Close()

	h, err = vol.Inodes.Get(inum)
	require.NoError(t, err)
	got, err := vol.Inodes.ReadAt(h, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
	require.NoError(t, vol.Inodes.Put(h))
}
