package sdlite

import (
	"encoding/binary"
	"testing"

	"github.com/aligator/sdlite/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testingVolume returns a mounted volume with the given geometry without
// reading a boot sector.
func testingVolume(dev BlockDevice, geo Geometry) *Volume {
	vol := NewVolume()
	vol.dev = dev
	vol.cache = newBlockCache(dev)
	vol.cache.fatOffset = geo.BlocksPerFAT
	vol.cache.fatCount = geo.FATCount
	vol.geo = geo
	vol.allocSearchStart = 2
	return vol
}

var (
	fat12Geometry = Geometry{FATType: FAT12, BlocksPerCluster: 1, FATCount: 2, BlocksPerFAT: 12, FATStartBlock: 1, ClusterCount: 4000, DataStartBlock: 60}
	fat16Geometry = Geometry{FATType: FAT16, BlocksPerCluster: 1, FATCount: 2, BlocksPerFAT: 40, FATStartBlock: 1, ClusterCount: 10000, DataStartBlock: 120}
	fat32Geometry = Geometry{FATType: FAT32, BlocksPerCluster: 1, FATCount: 2, BlocksPerFAT: 600, FATStartBlock: 32, ClusterCount: 70000, DataStartBlock: 1300, RootDirStart: 2}
)

func TestVolume_fatPut_FAT12Packing(t *testing.T) {
	ram := blockdev.NewRAM(100)
	vol := testingVolume(ram, fat12Geometry)

	require.NoError(t, vol.fatPut(2, 0x123))
	require.NoError(t, vol.fatPut(3, 0x456))
	require.NoError(t, vol.Sync())

	// Two entries share the middle byte.
	assert.Equal(t, []byte{0x23, 0x61, 0x45}, ram.Bytes(1)[3:6])
	assert.Equal(t, []byte{0x23, 0x61, 0x45}, ram.Bytes(13)[3:6], "second FAT")
}

func TestVolume_fatGetPut(t *testing.T) {
	tests := []struct {
		name     string
		geo      Geometry
		clusters []uint32
		mask     uint32
	}{
		{
			name: "FAT12",
			geo:  fat12Geometry,
			// 341 starts at byte 511 and continues in the next block.
			clusters: []uint32{2, 3, 4, 339, 340, 341, 342, 343, 682, 683, 4001},
			mask:     0xFFF,
		},
		{
			name:     "FAT16",
			geo:      fat16Geometry,
			clusters: []uint32{2, 3, 255, 256, 257, 10001},
			mask:     0xFFFF,
		},
		{
			name:     "FAT32",
			geo:      fat32Geometry,
			clusters: []uint32{2, 3, 127, 128, 129, 70001},
			mask:     0x0FFFFFFF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ram := blockdev.NewRAM(tt.geo.DataStartBlock + 10)
			vol := testingVolume(ram, tt.geo)

			value := func(i int) uint32 {
				return (0xA5A5A5A5 + uint32(i)*0x01010101) & tt.mask
			}
			for i, c := range tt.clusters {
				require.NoError(t, vol.fatPut(c, value(i)))
			}
			for i, c := range tt.clusters {
				got, err := vol.fatGet(c)
				require.NoError(t, err)
				assert.Equal(t, value(i), got, "cluster %d", c)
			}

			// Unused neighbors stay free.
			got, err := vol.fatGet(5)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), got)

			for _, c := range []uint32{0, 1, tt.geo.ClusterCount + 2} {
				_, err := vol.fatGet(c)
				assert.ErrorIs(t, err, ErrInvalidCluster, "cluster %d", c)
				assert.ErrorIs(t, vol.fatPut(c, 0), ErrInvalidCluster, "cluster %d", c)
			}
		})
	}
}

func TestVolume_fatPut_FAT32KeepsReservedBits(t *testing.T) {
	ram := blockdev.NewRAM(1400)
	vol := testingVolume(ram, fat32Geometry)

	raw := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(raw[5*4:], 0xF0000007)
	require.NoError(t, ram.WriteBlock(32, raw))

	got, err := vol.fatGet(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)

	require.NoError(t, vol.fatPut(5, 0x12345))
	require.NoError(t, vol.Sync())
	assert.Equal(t, uint32(0xF0012345), binary.LittleEndian.Uint32(ram.Bytes(32)[5*4:]))
	assert.Equal(t, uint32(0xF0012345), binary.LittleEndian.Uint32(ram.Bytes(632)[5*4:]))
}

func TestVolume_isEOC(t *testing.T) {
	tests := []struct {
		fatType uint8
		value   uint32
		want    bool
	}{
		{fatType: FAT12, value: 0xFF7, want: false},
		{fatType: FAT12, value: 0xFF8, want: true},
		{fatType: FAT12, value: 0xFFF, want: true},
		{fatType: FAT16, value: 0xFFF7, want: false},
		{fatType: FAT16, value: 0xFFF8, want: true},
		{fatType: FAT16, value: 0xFF8, want: false},
		{fatType: FAT32, value: 0x0FFFFFF7, want: false},
		{fatType: FAT32, value: 0x0FFFFFF8, want: true},
		{fatType: FAT32, value: 0xFFF8, want: false},
	}
	for _, tt := range tests {
		vol := &Volume{geo: Geometry{FATType: tt.fatType}}
		assert.Equal(t, tt.want, vol.isEOC(tt.value), "FAT%d %#x", tt.fatType, tt.value)
	}
}

func TestVolume_fatPutEOC(t *testing.T) {
	for _, geo := range []Geometry{fat12Geometry, fat16Geometry, fat32Geometry} {
		ram := blockdev.NewRAM(geo.DataStartBlock)
		vol := testingVolume(ram, geo)

		require.NoError(t, vol.fatPutEOC(9))
		got, err := vol.fatGet(9)
		require.NoError(t, err)
		assert.True(t, vol.isEOC(got), "FAT%d %#x", geo.FATType, got)
	}
}

func TestVolume_allocContiguous(t *testing.T) {
	geo := fat16Geometry
	geo.ClusterCount = 16
	ram := blockdev.NewRAM(geo.DataStartBlock + 16)
	vol := testingVolume(ram, geo)

	chain := func(first uint32) []uint32 {
		var clusters []uint32
		for c := first; ; {
			clusters = append(clusters, c)
			next, err := vol.fatGet(c)
			require.NoError(t, err)
			if vol.isEOC(next) {
				return clusters
			}
			c = next
		}
	}

	first, err := vol.allocContiguous(3, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), first)
	assert.Equal(t, []uint32{2, 3, 4}, chain(2))

	// Extending a chain links the new cluster.
	next, err := vol.allocContiguous(1, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), next)
	assert.Equal(t, []uint32{2, 3, 4, 5}, chain(2))

	require.NoError(t, vol.fatPutEOC(6))
	first, err = vol.allocContiguous(2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), first, "skips the used cluster 6")
	assert.Equal(t, []uint32{7, 8}, chain(7))

	// Single clusters move the search start.
	first, err = vol.allocContiguous(1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), first)
	assert.Equal(t, uint32(10), vol.allocSearchStart)

	_, err = vol.allocContiguous(0, 0)
	assert.ErrorIs(t, err, ErrNoSpace)

	// 10 to 17 are free, but not 9 in a row.
	_, err = vol.allocContiguous(9, 0)
	assert.ErrorIs(t, err, ErrNoSpace)

	free, err := vol.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(8), free)

	// The search wraps around at the end of the FAT.
	for i := 0; i < 8; i++ {
		_, err := vol.allocContiguous(1, 0)
		require.NoError(t, err)
	}
	_, err = vol.allocContiguous(1, 0)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestVolume_NotMounted(t *testing.T) {
	vol := NewVolume()

	_, err := vol.fatGet(2)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = vol.allocContiguous(1, 0)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = vol.FreeClusterCount()
	assert.ErrorIs(t, err, ErrNotMounted)

	f := &File{}
	assert.ErrorIs(t, f.OpenRoot(nil), ErrNotMounted)
}
