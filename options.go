package sdlite

import (
	"io"
	"io/ioutil"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/aligator/sdlite/sdspi"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Partition values for WithPartition.
const (
	// PartitionAuto tries partition 1 first and then a volume without partition table.
	PartitionAuto = -1
	// PartitionNone expects the boot sector in block 0 ("super floppy").
	PartitionNone = 0
)

// Default limits of a volume.
const (
	// DefaultMaxDirBlocks is the largest directory (in blocks) which can be opened.
	DefaultMaxDirBlocks = 4096
	// DefaultMaxDirEntries is the number of entries a directory may not grow beyond.
	DefaultMaxDirEntries = 0xFFFF
	// DefaultMultiBlockThreshold is the minimal aligned read size in bytes which
	// is streamed with a multi block transfer.
	DefaultMultiBlockThreshold = 2 * BlockSize
)

type options struct {
	log                 logrus.FieldLogger
	partition           int
	maxDirBlocks        uint32
	maxDirEntries       uint32
	multiBlockThreshold uint32
	cardConfig          sdspi.Config
}

func defaultOptions() options {
	discard := logrus.New()
	discard.Out = ioutil.Discard

	return options{
		log:                 discard,
		partition:           PartitionAuto,
		maxDirBlocks:        DefaultMaxDirBlocks,
		maxDirEntries:       DefaultMaxDirEntries,
		multiBlockThreshold: DefaultMultiBlockThreshold,
		cardConfig:          sdspi.DefaultConfig(),
	}
}

// Option configures a Volume or an Fs.
type Option func(o *options)

// WithLogger sets the logger used for debug output. By default nothing is logged.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithPartition selects the partition (1-4), PartitionNone or PartitionAuto.
func WithPartition(part int) Option {
	return func(o *options) {
		o.partition = part
	}
}

// WithMaxDirBlocks limits the size of directories which can be opened.
func WithMaxDirBlocks(blocks uint32) Option {
	return func(o *options) {
		if blocks > 0 {
			o.maxDirBlocks = blocks
		}
	}
}

// WithMaxDirEntries limits the number of entries a directory can grow to.
func WithMaxDirEntries(entries uint32) Option {
	return func(o *options) {
		if entries > 0 {
			o.maxDirEntries = entries
		}
	}
}

// WithMultiBlockThreshold sets the size in bytes from which aligned reads are
// streamed as multi block transfers. 0 disables multi block reads.
func WithMultiBlockThreshold(bytes uint32) Option {
	return func(o *options) {
		o.multiBlockThreshold = bytes
	}
}

// WithCardConfig sets the timeouts of the SD card used by Begin.
func WithCardConfig(cfg sdspi.Config) Option {
	return func(o *options) {
		o.cardConfig = cfg
	}
}

// Config is the serializable form of the options.
type Config struct {
	Partition           *int    `yaml:"partition"`
	MaxDirBlocks        uint32  `yaml:"max_dir_blocks"`
	MaxDirEntries       uint32  `yaml:"max_dir_entries"`
	MultiBlockThreshold *uint32 `yaml:"multi_block_threshold"`
	LogLevel            string  `yaml:"log_level"`
	// Card holds the SD card timeouts, e.g. "read_timeout: 300ms".
	Card *sdspi.Config `yaml:"card"`
}

// LoadConfig parses a YAML config:
//  partition: 1
//  max_dir_blocks: 4096
//  max_dir_entries: 65535
//  multi_block_threshold: 1024
//  log_level: debug
//  card:
//    init_timeout: 2s
//    read_timeout: 300ms
func LoadConfig(r io.Reader) (Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return Config{}, checkpoint.From(err)
	}

	cfg := Config{}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, checkpoint.From(err)
	}

	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return Config{}, checkpoint.From(err)
		}
	}
	return cfg, nil
}

// Options converts the config into options. Unset fields keep their defaults.
func (c Config) Options() []Option {
	var opts []Option
	if c.Partition != nil {
		opts = append(opts, WithPartition(*c.Partition))
	}
	if c.MaxDirBlocks != 0 {
		opts = append(opts, WithMaxDirBlocks(c.MaxDirBlocks))
	}
	if c.MaxDirEntries != 0 {
		opts = append(opts, WithMaxDirEntries(c.MaxDirEntries))
	}
	if c.MultiBlockThreshold != nil {
		opts = append(opts, WithMultiBlockThreshold(*c.MultiBlockThreshold))
	}
	if c.Card != nil {
		opts = append(opts, WithCardConfig(*c.Card))
	}
	return opts
}
