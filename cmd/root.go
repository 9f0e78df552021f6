package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "indexfs",
	Short: "Inspect and manipulate indexfs volume images",
	Long: `indexfs is a command-line tool for creating, inspecting and
manipulating indexfs volume images without a running kernel driver.

Works directly on raw image files or block devices. Useful for
provisioning images, debugging on-disk state, and recovering data.

Commands:
  mkfs        Create a fresh filesystem on an image
  probe       Classify an image's first block
  info        Show superblock and volume details
  ls          List a directory
  stat        Show inode details for a path
  cat         Print a file's contents
  mkdir       Create a directory
  put         Copy a local file into the image
  rm          Remove a file or empty directory`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Only global output control flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}
