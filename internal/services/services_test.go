// File: internal/services/services_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/device"
	"github.com/liamnaddell/indexfs/internal/types"
)

const (
	testBlockSize uint32     = 512
	testBlocks    types.Pblk = 1024
)

// newTestDevice returns a RAM-backed device for cache and volume tests.
func newTestDevice(t *testing.T) *device.RAMDevice {
	t.Helper()
	dev, err := device.NewRAMDevice(testBlockSize, testBlocks)
	require.NoError(t, err)
	return dev
}

// newTestVolume formats a RAM device and mounts it.
func newTestVolume(t *testing.T) (*Volume, *device.RAMDevice) {
	t.Helper()
	dev := newTestDevice(t)
	_, err := Mkfs(dev, MkfsOptions{Label: "test"})
	require.NoError(t, err)

	vol, err := MountVolume(dev, DefaultVolumeConfig())
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })
	return vol, dev
}
