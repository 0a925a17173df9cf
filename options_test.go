package sdlite

import (
	"strings"
	"testing"
	"time"

	"github.com/aligator/sdlite/sdspi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	part := 1
	threshold := uint32(0)

	tests := []struct {
		name    string
		yaml    string
		want    Config
		wantErr bool
	}{
		{
			name: "empty",
			yaml: "",
			want: Config{},
		},
		{
			name: "all options",
			yaml: `
partition: 1
max_dir_blocks: 64
max_dir_entries: 128
multi_block_threshold: 0
log_level: debug
card:
  init_timeout: 1s
  read_timeout: 150ms
`,
			want: Config{
				Partition:           &part,
				MaxDirBlocks:        64,
				MaxDirEntries:       128,
				MultiBlockThreshold: &threshold,
				LogLevel:            "debug",
				Card: &sdspi.Config{
					InitTimeout: time.Second,
					ReadTimeout: 150 * time.Millisecond,
				},
			},
		},
		{
			name:    "unknown key",
			yaml:    "partitions: 2\n",
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    "log_level: loud\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "partition: [\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadConfig(strings.NewReader(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	part := PartitionNone
	threshold := uint32(4096)
	cfg := Config{
		Partition:           &part,
		MaxDirEntries:       100,
		MultiBlockThreshold: &threshold,
		Card:                &sdspi.Config{WriteTimeout: time.Second},
	}

	o := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}

	assert.Equal(t, PartitionNone, o.partition)
	assert.Equal(t, uint32(DefaultMaxDirBlocks), o.maxDirBlocks)
	assert.Equal(t, uint32(100), o.maxDirEntries)
	assert.Equal(t, uint32(4096), o.multiBlockThreshold)
	assert.Equal(t, sdspi.Config{WriteTimeout: time.Second}, o.cardConfig)

	assert.Empty(t, Config{}.Options())
}

func TestOptions_Defaults(t *testing.T) {
	o := defaultOptions()
	WithMaxDirBlocks(0)(&o)
	WithMaxDirEntries(0)(&o)
	WithLogger(nil)(&o)

	assert.Equal(t, PartitionAuto, o.partition)
	assert.Equal(t, uint32(DefaultMaxDirBlocks), o.maxDirBlocks)
	assert.Equal(t, uint32(DefaultMaxDirEntries), o.maxDirEntries)
	assert.Equal(t, uint32(DefaultMultiBlockThreshold), o.multiBlockThreshold)
	assert.NotNil(t, o.log)
	assert.Equal(t, sdspi.DefaultConfig(), o.cardConfig)
}
