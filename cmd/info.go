package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liamnaddell/indexfs/internal/device"
	"github.com/liamnaddell/indexfs/internal/services"
)

var infoCmd = &cobra.Command{
	Use:   "info [image-path]",
	Short: "Show superblock and volume details",
	Long: `Mount an image and print its superblock: geometry, metadata region
layout, identity and the read-only state.

Examples:
  indexfs info disk.img
  indexfs info disk.img -o json`,

	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runInfo(args[0]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(imagePath string) error {
	dev, err := device.OpenFileDevice(imagePath, imageBlockSize)
	if err != nil {
		return err
	}

	vol, err := services.MountVolume(dev, services.DefaultVolumeConfig())
	if err != nil {
		dev.Close()
		return err
	}
	defer vol.Close()

	sb := vol.Superblock()
	id, _ := uuid.FromBytes(sb.UUID[:])

	if GetOutputFormat() == "json" {
		out := map[string]interface{}{
			"label":        sb.Label,
			"uuid":         id.String(),
			"version":      sb.Version,
			"block_size":   sb.BlockSize,
			"total_blocks": sb.TotalBlocks,
			"inode_count":  sb.InodeCount,
			"root_inode":   sb.Root,
			"read_only":    vol.ReadOnly(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Volume: %s\n", imagePath)
	if sb.Label != "" {
		fmt.Printf("    Label:        %s\n", sb.Label)
	}
	fmt.Printf("    UUID:         %s\n", id)
	fmt.Printf("    Version:      %d\n", sb.Version)
	fmt.Printf("    Block size:   %d bytes\n", sb.BlockSize)
	fmt.Printf("    Total blocks: %d\n", sb.TotalBlocks)
	fmt.Printf("    Inodes:       %d\n", sb.InodeCount)
	fmt.Printf("    Root inode:   %d\n", sb.Root)
	if GetVerbose() {
		fmt.Printf("    Block bitmap: blocks %d..%d\n", sb.BlockBitmapStart,
			uint64(sb.BlockBitmapStart)+uint64(sb.BlockBitmapLen)-1)
		fmt.Printf("    Inode bitmap: blocks %d..%d\n", sb.InodeBitmapStart,
			uint64(sb.InodeBitmapStart)+uint64(sb.InodeBitmapLen)-1)
		fmt.Printf("    Inode table:  blocks %d..%d\n", sb.InodeTableStart,
			uint64(sb.InodeTableStart)+uint64(sb.InodeTableLen)-1)
	}
	if vol.ReadOnly() {
		fmt.Println("    State:        READ-ONLY")
	}
	return nil
}
