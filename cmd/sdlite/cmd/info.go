package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func DefineInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "info <image>",
		Short:        "Print the geometry of the volume",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunInfo,
	}
}

func RunInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	vol := s.fs.Volume()
	geo := vol.Geometry()
	free, err := vol.FreeClusterCount()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "FAT type:           FAT%d\n", geo.FATType)
	fmt.Fprintf(w, "Volume start:       %d\n", geo.VolumeStartBlock)
	fmt.Fprintf(w, "Blocks per cluster: %d\n", geo.BlocksPerCluster)
	fmt.Fprintf(w, "FATs:               %d x %d blocks at %d\n", geo.FATCount, geo.BlocksPerFAT, geo.FATStartBlock)
	if geo.RootDirEntryCount > 0 {
		fmt.Fprintf(w, "Root directory:     %d entries at %d\n", geo.RootDirEntryCount, geo.RootDirStart)
	} else {
		fmt.Fprintf(w, "Root directory:     cluster %d\n", geo.RootDirStart)
	}
	fmt.Fprintf(w, "Data start:         %d\n", geo.DataStartBlock)
	fmt.Fprintf(w, "Clusters:           %d (%d free)\n", geo.ClusterCount, free)
	fmt.Fprintf(w, "Free space:         %d bytes\n", uint64(free)*uint64(geo.ClusterSize()))
	return nil
}
