package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/services"
	"github.com/liamnaddell/indexfs/internal/types"
)

var putDest string

var putCmd = &cobra.Command{
	Use:   "put [image-path] [local-file]",
	Short: "Copy a local file into the image",
	Long: `Copy a local file into the image, creating the destination entry.

Examples:
  # Store notes.txt under the root directory
  indexfs put disk.img notes.txt

  # Store under a different name and directory
  indexfs put disk.img notes.txt --dest /docs/readme.txt`,

	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPut(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(putCmd)

	putCmd.Flags().StringVar(&putDest, "dest", "", "destination path inside the image (default: root, same name)")
}

func runPut(imagePath, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	dest := putDest
	if dest == "" {
		dest = "/" + filepath.Base(localPath)
	}

	return withMount(imagePath, func(ctx context.Context, srv *services.Server) error {
		parent, name, err := splitPath(dest)
		if err != nil {
			return err
		}

		dh, _, err := openPath(ctx, srv, parent)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, dh)

		h, _, err := srv.Create(ctx, dh, name, types.InodeFile)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, h)

		n, err := srv.Write(ctx, h, 0, data)
		if err != nil {
			return err
		}
		if err := srv.Flush(ctx); err != nil {
			return err
		}
		if !GetQuiet() {
			fmt.Printf("Wrote %d bytes to %s\n", n, "/"+strings.Trim(dest, "/"))
		}
		return nil
	})
}
