package cmd

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/parsers/dirents"
	"github.com/liamnaddell/indexfs/internal/services"
	"github.com/liamnaddell/indexfs/internal/types"
)

var (
	lsPath      string
	lsBatchSize int
)

var lsCmd = &cobra.Command{
	Use:   "ls [image-path]",
	Short: "List a directory",
	Long: `Enumerate a directory's live entries in stable on-disk order, using
bounded reads with resumption between batches.

Examples:
  indexfs ls disk.img
  indexfs ls disk.img --path /var/log --batch 4096`,

	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLs(args[0]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().StringVarP(&lsPath, "path", "p", "/", "directory to list")
	lsCmd.Flags().IntVar(&lsBatchSize, "batch", 4096, "bytes of entries per read")
}

func runLs(imagePath string) error {
	return withMount(imagePath, func(ctx context.Context, srv *services.Server) error {
		h, st, err := openPath(ctx, srv, lsPath)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, h)

		if st.Type != types.InodeDirectory {
			return fmt.Errorf("%s: %w", lsPath, types.ErrNotADirectory)
		}

		var offset uint64
		for {
			res, err := srv.Read(ctx, h, offset, lsBatchSize)
			if err != nil {
				return err
			}
			pos := 0
			for pos < len(res.Data) {
				de, next, err := dirents.ParseWire(res.Data, pos, binary.LittleEndian)
				if err != nil {
					return err
				}
				marker := ""
				if de.Type == types.InodeDirectory {
					marker = "/"
				}
				if GetVerbose() {
					fmt.Printf("%8d  %s%s\n", de.Inum, de.Name, marker)
				} else {
					fmt.Printf("%s%s\n", de.Name, marker)
				}
				pos = next
			}
			if res.End {
				return nil
			}
			offset = res.NextOffset
		}
	})
}
