// File: internal/services/registry_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func TestRegistryMountLookupUnmount(t *testing.T) {
	reg := NewRegistry()

	dev := newTestDevice(t)
	_, err := Mkfs(dev, MkfsOptions{Label: "registered"})
	require.NoError(t, err)

	m, err := reg.Mount("disk0", dev, DefaultVolumeConfig(), DefaultServerConfig())
	require.NoError(t, err)
	assert.Equal(t, "registered", m.Volume.Superblock().Label)

	got, ok := reg.Lookup("disk0")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, []string{"disk0"}, reg.Names())

	_, ok = reg.Lookup("disk1")
	assert.False(t, ok)

	// Duplicate names are refused.
	_, err = reg.Mount("disk0", dev, DefaultVolumeConfig(), DefaultServerConfig())
	require.Error(t, err)

	require.NoError(t, reg.Unmount("disk0"))
	_, ok = reg.Lookup("disk0")
	assert.False(t, ok)
	err = reg.Unmount("disk0")
	require.Error(t, err)
}

func TestRegistryDeclinesForeignDevice(t *testing.T) {
	reg := NewRegistry()

	// Never formatted: the probe classifies it as some other format and
	// the mount is declined without touching the rest of the device.
	dev := newTestDevice(t)
	_, err := reg.Mount("foreign", dev, DefaultVolumeConfig(), DefaultServerConfig())
	require.Error(t, err)
	assert.Empty(t, reg.Names())
}

func TestRegistryServesMountedVolume(t *testing.T) {
	reg := NewRegistry()
	defer reg.CloseAll()

	dev := newTestDevice(t)
	_, err := Mkfs(dev, MkfsOptions{})
	require.NoError(t, err)
	m, err := reg.Mount("disk0", dev, DefaultVolumeConfig(), DefaultServerConfig())
	require.NoError(t, err)

	ctx := context.Background()
	root, _, err := m.Server.OpenRoot(ctx)
	require.NoError(t, err)

	fh, _, err := m.Server.Create(ctx, root, "persisted", types.InodeFile)
	require.NoError(t, err)
	_, err = m.Server.Write(ctx, fh, 0, []byte("across unmount"))
	require.NoError(t, err)
	require.NoError(t, m.Server.Close(ctx, fh))
	require.NoError(t, m.Server.Close(ctx, root))

	require.NoError(t, reg.Unmount("disk0"))

	// The unmount flushed everything; a second mount sees the file.
	m, err = reg.Mount("disk0", dev, DefaultVolumeConfig(), DefaultServerConfig())
	require.NoError(t, err)
	root, _, err = m.Server.OpenRoot(ctx)
	require.NoError(t, err)
	h, st, err := m.Server.OpenAt(ctx, root, "persisted")
	require.NoError(t, err)
	assert.Equal(t, uint64(14), st.Size)
	res, err := m.Server.Read(ctx, h, 0, 32)
	require.NoError(t, err)
	assert.Equal(t, []byte("across unmount"), res.Data)
	require.NoError(t, m.Server.Close(ctx, h))
	require.NoError(t, m.Server.Close(ctx, root))
}
