package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/services"
	"github.com/liamnaddell/indexfs/internal/types"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir [image-path] [path]",
	Short: "Create a directory",

	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMkdir(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
}

func runMkdir(imagePath, path string) error {
	return withMount(imagePath, func(ctx context.Context, srv *services.Server) error {
		parent, name, err := splitPath(path)
		if err != nil {
			return err
		}

		dh, _, err := openPath(ctx, srv, parent)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, dh)

		h, st, err := srv.Create(ctx, dh, name, types.InodeDirectory)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, h)

		if err := srv.Flush(ctx); err != nil {
			return err
		}
		if !GetQuiet() {
			fmt.Printf("Created directory %s (inode %d)\n", path, st.Inum)
		}
		return nil
	})
}
