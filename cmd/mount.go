package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/liamnaddell/indexfs/internal/config"
	"github.com/liamnaddell/indexfs/internal/device"
	"github.com/liamnaddell/indexfs/internal/services"
)

var imageBlockSize uint32

func init() {
	rootCmd.PersistentFlags().Uint32Var(&imageBlockSize, "block-size", 1024, "device block size in bytes")
}

// withMount opens an image, mounts it through a registry and runs fn
// against the request server, unmounting afterwards.
func withMount(imagePath string, fn func(ctx context.Context, srv *services.Server) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dev, err := device.OpenFileDevice(imagePath, imageBlockSize)
	if err != nil {
		return err
	}

	reg := services.NewRegistry()
	m, err := reg.Mount(imagePath, dev,
		services.VolumeConfig{
			Cache: services.PageCacheConfig{
				MaxPages:     cfg.CachePages,
				PageSpan:     uint32(cfg.PageSpan),
				WriteRetries: cfg.WriteRetries,
			},
			CompactTombstones: cfg.CompactTombstones,
		},
		services.ServerConfig{
			Workers: cfg.Workers,
			Queue:   cfg.RequestQueue,
		})
	if err != nil {
		dev.Close()
		return err
	}
	defer reg.CloseAll()

	return fn(context.Background(), m.Server)
}

// openPath walks a slash-separated path from the root, one OPEN_AT per
// segment issued as a single relative open. Returns the handle and stat
// of the final component. The caller closes the handle.
func openPath(ctx context.Context, srv *services.Server, path string) (uint64, services.Stat, error) {
	root, rootStat, err := srv.OpenRoot(ctx)
	if err != nil {
		return 0, services.Stat{}, err
	}

	rel := strings.Trim(path, "/")
	if rel == "" {
		return root, rootStat, nil
	}

	h, st, err := srv.OpenAt(ctx, root, rel)
	srv.Close(ctx, root)
	if err != nil {
		return 0, services.Stat{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, st, nil
}

// splitPath separates a path into its parent directory and final name.
func splitPath(path string) (string, string, error) {
	rel := strings.Trim(path, "/")
	if rel == "" {
		return "", "", fmt.Errorf("path %q has no final component", path)
	}
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[:i], rel[i+1:], nil
	}
	return "", rel, nil
}
