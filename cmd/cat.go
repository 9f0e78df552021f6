package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/services"
	"github.com/liamnaddell/indexfs/internal/types"
)

var catChunkSize int

var catCmd = &cobra.Command{
	Use:   "cat [image-path] [path]",
	Short: "Print a file's contents",

	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCat(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(catCmd)

	catCmd.Flags().IntVar(&catChunkSize, "chunk", 64*1024, "bytes per read")
}

func runCat(imagePath, path string) error {
	return withMount(imagePath, func(ctx context.Context, srv *services.Server) error {
		h, st, err := openPath(ctx, srv, path)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, h)

		if st.Type == types.InodeDirectory {
			return fmt.Errorf("%s is a directory", path)
		}

		var offset uint64
		for offset < st.Size {
			res, err := srv.Read(ctx, h, offset, catChunkSize)
			if err != nil {
				return err
			}
			if len(res.Data) == 0 {
				break
			}
			if _, err := os.Stdout.Write(res.Data); err != nil {
				return err
			}
			offset = res.NextOffset
		}
		return nil
	})
}
