// File: internal/services/server_test.go
package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamnaddell/indexfs/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	vol, _ := newTestVolume(t)
	srv := NewServer(NewDispatcher(vol), DefaultServerConfig())
	t.Cleanup(func() { srv.Shutdown() })
	return srv
}

func TestServerEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	root, st, err := srv.OpenRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RootInum, st.Inum)

	fh, _, err := srv.Create(ctx, root, "hello.txt", types.InodeFile)
	require.NoError(t, err)

	n, err := srv.Write(ctx, fh, 0, []byte("served data"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	res, err := srv.Read(ctx, fh, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("served data"), res.Data)

	require.NoError(t, srv.Flush(ctx))
	require.NoError(t, srv.Close(ctx, fh))

	require.NoError(t, srv.Unlink(ctx, root, "hello.txt"))
	_, _, err = srv.OpenAt(ctx, root, "hello.txt")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, srv.Close(ctx, root))
}

func TestServerConcurrentClients(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	root, _, err := srv.OpenRoot(ctx)
	require.NoError(t, err)
	defer srv.Close(ctx, root)

	// The directories are created up front: concurrent mutation of one
	// directory is reported as ErrBusy by design, and that is not what
	// this test is after. Each client then works in its own directory,
	// and the pool interleaves the requests.
	const clients = 8
	handles := make([]uint64, clients)
	for c := 0; c < clients; c++ {
		dh, _, err := srv.Create(ctx, root, fmt.Sprintf("client-%d", c), types.InodeDirectory)
		require.NoError(t, err)
		handles[c] = dh
	}

	var wg sync.WaitGroup
	errs := make([]error, clients)
	wg.Add(clients)
	for c := 0; c < clients; c++ {
		go func(c int) {
			defer wg.Done()
			errs[c] = func() error {
				dh := handles[c]
				defer srv.Close(ctx, dh)
				for i := 0; i < 10; i++ {
					fh, _, err := srv.Create(ctx, dh, fmt.Sprintf("file-%d", i), types.InodeFile)
					if err != nil {
						return err
					}
					if _, err := srv.Write(ctx, fh, 0, []byte("payload")); err != nil {
						return err
					}
					if err := srv.Close(ctx, fh); err != nil {
						return err
					}
				}
				return nil
			}()
		}(c)
	}
	wg.Wait()
	for c, err := range errs {
		require.NoError(t, err, "client %d", c)
	}

	for c := 0; c < clients; c++ {
		dh, _, err := srv.OpenAt(ctx, root, fmt.Sprintf("client-%d/file-9", c))
		require.NoError(t, err)
		res, err := srv.Read(ctx, dh, 0, 16)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), res.Data)
		require.NoError(t, srv.Close(ctx, dh))
	}
}

func TestServerShutdownRejectsNewRequests(t *testing.T) {
	vol, _ := newTestVolume(t)
	dp := NewDispatcher(vol)
	srv := NewServer(dp, ServerConfig{Workers: 2, Queue: 8})
	ctx := context.Background()

	root, _, err := srv.OpenRoot(ctx)
	require.NoError(t, err)
	_ = root

	require.NoError(t, srv.Shutdown())
	assert.Zero(t, dp.OpenHandles(), "shutdown releases every open handle")

	_, _, err = srv.OpenRoot(ctx)
	require.Error(t, err)

	// Idempotent.
	require.NoError(t, srv.Shutdown())
}
