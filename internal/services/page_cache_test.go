// File: internal/services/page_cache_test.go
package services

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/device"
	"github.com/liamnaddell/indexfs/internal/types"
)

func newTestCache(t *testing.T, cfg PageCacheConfig) (*PageCache, *device.RAMDevice, *atomic.Bool) {
	t.Helper()
	dev := newTestDevice(t)
	ro := new(atomic.Bool)
	cache, err := NewPageCache(dev, cfg, ro)
	require.NoError(t, err)
	return cache, dev, ro
}

func TestPageCacheHitAndMiss(t *testing.T) {
	cache, _, _ := newTestCache(t, DefaultPageCacheConfig())

	buf, err := cache.Acquire(3)
	require.NoError(t, err)
	cache.Release(buf, false)

	// Same page again: the second acquire must not touch the device.
	buf, err = cache.Acquire(3)
	require.NoError(t, err)
	cache.Release(buf, false)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestPageCacheAdjacentBlocksShareOnePage(t *testing.T) {
	cache, dev, _ := newTestCache(t, PageCacheConfig{MaxPages: 4, PageSpan: 8, WriteRetries: 0})

	for b := types.Pblk(0); b < 8; b++ {
		buf, err := cache.Acquire(b)
		require.NoError(t, err)
		cache.Release(buf, false)
	}

	reads, _ := dev.Counters()
	assert.Equal(t, uint64(1), reads, "eight adjacent blocks should cost one device read")
}

func TestPageCacheDirtyDataSurvivesFlush(t *testing.T) {
	cache, dev, _ := newTestCache(t, DefaultPageCacheConfig())

	buf, err := cache.Acquire(5)
	require.NoError(t, err)
	copy(buf.Data(), []byte("written through the cache"))
	cache.Release(buf, true)

	require.NoError(t, cache.Flush(5))

	raw := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(5, 1, raw))
	assert.Equal(t, []byte("written through the cache"), raw[:25])
}

func TestPageCacheEvictionWritesBackDirtyVictim(t *testing.T) {
	cache, dev, _ := newTestCache(t, PageCacheConfig{MaxPages: 2, PageSpan: 1, WriteRetries: 0})

	buf, err := cache.Acquire(1)
	require.NoError(t, err)
	copy(buf.Data(), []byte("victim"))
	cache.Release(buf, true)

	// Fill the cache and force the dirty page out.
	for _, b := range []types.Pblk{2, 3} {
		buf, err := cache.Acquire(b)
		require.NoError(t, err)
		cache.Release(buf, false)
	}

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Writebacks)

	raw := make([]byte, testBlockSize)
	require.NoError(t, dev.ReadBlocks(1, 1, raw))
	assert.Equal(t, []byte("victim"), raw[:6])

	// Reloading the evicted block sees the written data.
	buf, err = cache.Acquire(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("victim"), buf.Data()[:6])
	cache.Release(buf, false)
}

func TestPageCacheAllPinnedIsBusy(t *testing.T) {
	cache, _, _ := newTestCache(t, PageCacheConfig{MaxPages: 1, PageSpan: 1, WriteRetries: 0})

	buf, err := cache.Acquire(1)
	require.NoError(t, err)

	_, err = cache.Acquire(2)
	assert.ErrorIs(t, err, types.ErrBusy)

	cache.Release(buf, false)
	buf2, err := cache.Acquire(2)
	require.NoError(t, err)
	cache.Release(buf2, false)
}

func TestPageCachePinnedPageIsNeverEvicted(t *testing.T) {
	cache, _, _ := newTestCache(t, PageCacheConfig{MaxPages: 2, PageSpan: 1, WriteRetries: 0})

	pinned, err := cache.Acquire(1)
	require.NoError(t, err)
	copy(pinned.Data(), []byte("pinned"))

	// Cycle other blocks through the remaining page slot.
	for _, b := range []types.Pblk{2, 3, 4} {
		buf, err := cache.Acquire(b)
		require.NoError(t, err)
		cache.Release(buf, false)
	}

	assert.Equal(t, []byte("pinned"), pinned.Data()[:6])
	cache.Release(pinned, true)
	require.NoError(t, cache.FlushAll())
}

func TestPageCacheWritebackExhaustionFencesReadOnly(t *testing.T) {
	dev := newTestDevice(t)
	faulty := device.NewFaultyDevice(dev, 0)
	ro := new(atomic.Bool)
	cache, err := NewPageCache(faulty, PageCacheConfig{MaxPages: 4, PageSpan: 1, WriteRetries: 2}, ro)
	require.NoError(t, err)

	buf, err := cache.Acquire(1)
	require.NoError(t, err)
	copy(buf.Data(), []byte("doomed"))
	cache.Release(buf, true)

	faulty.FailNextWrites(100)
	err = cache.Flush(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIO))
	assert.True(t, ro.Load(), "exhausted write-back must fence the volume read-only")

	// One initial attempt plus two retries.
	seen, failed := faulty.WriteAttempts()
	assert.Equal(t, 3, seen)
	assert.Equal(t, 3, failed)
}

func TestPageCacheOutOfRangeBlock(t *testing.T) {
	cache, _, _ := newTestCache(t, DefaultPageCacheConfig())
	_, err := cache.Acquire(testBlocks)
	assert.ErrorIs(t, err, types.ErrIO)
}
