package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/services"
)

var rmCmd = &cobra.Command{
	Use:   "rm [image-path] [path]",
	Short: "Remove a file or empty directory",

	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRm(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(imagePath, path string) error {
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

		if err := srv.Unlink(ctx, dh, name); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := srv.Flush(ctx); err != nil {
			return err
		}
		if !GetQuiet() {
			fmt.Printf("Removed %s\n", path)
		}
		return nil
	})
}
