// File: internal/device/device_test.go
package device

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func TestRAMDeviceRoundTrip(t *testing.T) {
	dev, err := NewRAMDevice(512, 16)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("ram"), 512)
	require.NoError(t, dev.WriteBlocks(2, payload[:1024]))

	got := make([]byte, 1024)
	require.NoError(t, dev.ReadBlocks(2, 2, got))
	assert.Equal(t, payload[:1024], got)

	// Out-of-range transfers are refused.
	err = dev.ReadBlocks(15, 2, got)
	assert.ErrorIs(t, err, types.ErrIO)
	err = dev.WriteBlocks(16, payload[:512])
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestRAMDeviceRejectsBadGeometry(t *testing.T) {
	_, err := NewRAMDevice(500, 16) // not a power of two
	require.Error(t, err)
	_, err = NewRAMDevice(512, 0)
	require.Error(t, err)
}

func TestFileDeviceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	dev, err := CreateFileDevice(path, 512, 64)
	require.NoError(t, err)
	assert.Equal(t, types.Pblk(64), dev.TotalBlocks())

	payload := bytes.Repeat([]byte("disk"), 128)
	require.NoError(t, dev.WriteBlocks(10, payload))
	require.NoError(t, dev.Sync())
	require.NoError(t, dev.Close())

	dev, err = OpenFileDevice(path, 512)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, types.Pblk(64), dev.TotalBlocks())

	got := make([]byte, 512)
	require.NoError(t, dev.ReadBlocks(10, 1, got))
	assert.Equal(t, payload, got)
}

func TestFaultyDeviceInjection(t *testing.T) {
	ram, err := NewRAMDevice(512, 8)
	require.NoError(t, err)
	dev := NewFaultyDevice(ram, 2)

	block := make([]byte, 512)
	err = dev.WriteBlocks(0, block)
	assert.ErrorIs(t, err, types.ErrIO)
	err = dev.WriteBlocks(0, block)
	assert.ErrorIs(t, err, types.ErrIO)

	// Budget exhausted; writes pass through again.
	require.NoError(t, dev.WriteBlocks(0, block))

	seen, failed := dev.WriteAttempts()
	assert.Equal(t, 3, seen)
	assert.Equal(t, 2, failed)
}
