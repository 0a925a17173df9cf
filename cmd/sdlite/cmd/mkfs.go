package cmd

import (
	"fmt"

	"github.com/aligator/sdlite"
	"github.com/aligator/sdlite/blockdev"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func DefineMkfsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkfs <image>",
		Short: "Format an image with an empty FAT volume",
		Long: `The 'mkfs' command writes an empty FAT12, FAT16 or FAT32 volume.
With --blocks a new image of that many 512 byte blocks is created, otherwise the
existing image is formatted in its full size.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunMkfs,
	}

	cmd.Flags().Uint32P("blocks", "b", 0, "create a new image with this number of blocks")
	cmd.Flags().Uint8("fat", 0, "FAT type 12, 16 or 32, by default chosen by the size")
	cmd.Flags().Uint8("cluster", 0, "blocks per cluster, a power of two up to 128")
	cmd.Flags().Uint16("root-entries", 0, "size of the FAT12/16 root directory (default 512)")
	cmd.Flags().Bool("mbr", false, "write a partition table with a single partition")
	cmd.Flags().String("label", "", "volume label")
	return cmd
}

func RunMkfs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	blocks, _ := cmd.Flags().GetUint32("blocks")
	fatType, _ := cmd.Flags().GetUint8("fat")
	cluster, _ := cmd.Flags().GetUint8("cluster")
	rootEntries, _ := cmd.Flags().GetUint16("root-entries")
	mbr, _ := cmd.Flags().GetBool("mbr")
	label, _ := cmd.Flags().GetString("label")

	var img *blockdev.Image
	if blocks > 0 {
		img, err = blockdev.CreateImage(afero.NewOsFs(), args[0], blocks)
	} else {
		img, err = blockdev.OpenImage(afero.NewOsFs(), args[0], false)
	}
	if err != nil {
		return err
	}

	geo, err := sdlite.Format(img, img.Blocks(), sdlite.Layout{
		FATType:          fatType,
		BlocksPerCluster: cluster,
		RootEntries:      rootEntries,
		Partition:        mbr,
		Label:            label,
	}, sdlite.WithLogger(log))
	if closeErr := img.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "FAT%d, %d clusters of %d bytes\n", geo.FATType, geo.ClusterCount, geo.ClusterSize())
	return nil
}
