package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/device"
	"github.com/liamnaddell/indexfs/internal/parsers/volume"
	"github.com/liamnaddell/indexfs/internal/services"
)

var probeCmd = &cobra.Command{
	Use:   "probe [image-path]",
	Short: "Classify an image's first block",
	Long: `Read an image's first block and report whether it carries a
recognizable filesystem: RECOGNIZED, NOT_MINE or CORRUPT.

Exit status is zero only for RECOGNIZED, so the command doubles as a
scriptable format check.`,

	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runProbe(args[0]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(imagePath string) error {
	dev, err := device.OpenFileDevice(imagePath, imageBlockSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	res, err := services.ProbeDevice(dev)
	if err != nil {
		return err
	}
	fmt.Println(res)
	if res != volume.ProbeRecognized {
		return fmt.Errorf("%s: %s", imagePath, res)
	}
	return nil
}
