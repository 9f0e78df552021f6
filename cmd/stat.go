package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/services"
)

var statCmd = &cobra.Command{
	Use:   "stat [image-path] [path]",
	Short: "Show inode details for a path",

	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStat(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(imagePath, path string) error {
	return withMount(imagePath, func(ctx context.Context, srv *services.Server) error {
		h, st, err := openPath(ctx, srv, path)
		if err != nil {
			return err
		}
		defer srv.Close(ctx, h)

		fmt.Printf("%s:\n", path)
		fmt.Printf("    Inode:  %d\n", st.Inum)
		fmt.Printf("    Type:   %s\n", st.Type)
		fmt.Printf("    Links:  %d\n", st.Nlink)
		fmt.Printf("    Size:   %d bytes\n", st.Size)
		fmt.Printf("    Blocks: %d\n", st.Blocks)
		fmt.Printf("    Parent: %d\n", st.Parent)
		return nil
	})
}
