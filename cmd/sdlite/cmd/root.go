package cmd

import (
	"os"

	"github.com/aligator/sdlite"
	"github.com/aligator/sdlite/blockdev"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const AppName = "sdlite"

func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand returns the sdlite command with all sub commands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: AppName + " - access FAT12/16/32 images the way the SD card driver does",
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML file with the volume options")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides the config")
	rootCmd.PersistentFlags().IntP("partition", "p", sdlite.PartitionAuto, "partition 1-4, 0 for no partition table, -1 to detect it")
	rootCmd.PersistentFlags().Bool("mmap", false, "map the image into memory instead of using file IO")

	rootCmd.AddCommand(
		DefineLsCommand(),
		DefineCatCommand(),
		DefinePutCommand(),
		DefineMkdirCommand(),
		DefineMkfsCommand(),
		DefineInfoCommand(),
		DefineMountCommand(),
	)
	return rootCmd
}

// device is a block device backed by an image which has to be closed.
type device interface {
	sdlite.BlockDevice
	Close() error
}

// session is a mounted image.
type session struct {
	fs  *sdlite.Fs
	dev device
	log *logrus.Logger
}

// Close unmounts the volume and closes the image.
func (s *session) Close() error {
	err := s.fs.Close()
	if closeErr := s.dev.Close(); err == nil {
		err = closeErr
	}
	return err
}

// newLogger configures a logger from the config file and the --log-level flag.
func newLogger(cmd *cobra.Command, cfg sdlite.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.Out = cmd.ErrOrStderr()
	log.SetLevel(logrus.WarnLevel)

	level := cfg.LogLevel
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	}
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(lvl)
	}
	return log, nil
}

// loadConfig reads the --config file. Without it the defaults are used.
func loadConfig(cmd *cobra.Command) (sdlite.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return sdlite.Config{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return sdlite.Config{}, err
	}
	defer f.Close()

	return sdlite.LoadConfig(f)
}

// openDevice opens the image at path with file IO or, with --mmap, memory mapped.
func openDevice(cmd *cobra.Command, path string, readOnly bool) (device, error) {
	if useMmap, _ := cmd.Flags().GetBool("mmap"); useMmap {
		return blockdev.OpenMmap(path, readOnly)
	}
	return blockdev.OpenImage(afero.NewOsFs(), path, readOnly)
}

// openSession mounts the image at path using the config, the log level and the partition flags.
func openSession(cmd *cobra.Command, path string, readOnly bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	opts := append(cfg.Options(), sdlite.WithLogger(log))
	if cmd.Flags().Changed("partition") {
		part, _ := cmd.Flags().GetInt("partition")
		opts = append(opts, sdlite.WithPartition(part))
	}

	dev, err := openDevice(cmd, path, readOnly)
	if err != nil {
		return nil, err
	}

	fsys, err := sdlite.New(dev, opts...)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	log.WithField("image", path).Debug("image mounted")
	return &session{fs: fsys, dev: dev, log: log}, nil
}
