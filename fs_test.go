package sdlite

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/aligator/sdlite/blockdev"
	"github.com/aligator/sdlite/internal/cardsim"
	"github.com/aligator/sdlite/sdspi"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testVolume describes an image which is formatted for a test.
type testVolume struct {
	name   string
	blocks uint32
	layout Layout
}

var testVolumes = []testVolume{
	{name: "FAT12", blocks: 4096, layout: Layout{FATType: FAT12, Label: "SDLITE12"}},
	{name: "FAT16 partition", blocks: 40000, layout: Layout{FATType: FAT16, Partition: true}},
	{name: "FAT32", blocks: 70000, layout: Layout{FATType: FAT32, BlocksPerCluster: 1}},
}

func testingFormat(t *testing.T, tv testVolume) *blockdev.RAM {
	t.Helper()
	ram := blockdev.NewRAM(tv.blocks)
	_, err := Format(ram, tv.blocks, tv.layout)
	require.NoError(t, err)
	return ram
}

func testingNew(t *testing.T, tv testVolume, opts ...Option) (*Fs, *blockdev.RAM) {
	t.Helper()
	ram := testingFormat(t, tv)
	fs, err := New(ram, opts...)
	require.NoError(t, err)
	return fs, ram
}

// forEachVolume runs test once for every FAT type.
func forEachVolume(t *testing.T, test func(t *testing.T, tv testVolume)) {
	for _, tv := range testVolumes {
		tv := tv
		t.Run(tv.name, func(t *testing.T) {
			test(t, tv)
		})
	}
}

// testingWriteFile creates path with content through fs.
func testingWriteFile(t *testing.T, fs *Fs, path string, content []byte) {
	t.Helper()
	f, err := fs.Open(path, O_CREAT|O_EXCL|O_WRITE)
	require.NoError(t, err)
	n, err := f.Write(content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, f.Close())
}

func testingReadFile(t *testing.T, fs *Fs, path string) []byte {
	t.Helper()
	f, err := fs.Open(path, O_READ)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestNew(t *testing.T) {
	forEachVolume(t, func(t *testing.T, tv testVolume) {
		fs, _ := testingNew(t, tv)
		vol := fs.Volume()
		geo := vol.Geometry()

		assert.True(t, vol.IsMounted())
		assert.Equal(t, tv.layout.FATType, vol.FATType())
		assert.Equal(t, uint8(2), geo.FATCount)
		if tv.layout.Partition {
			assert.Equal(t, uint32(2048), geo.VolumeStartBlock)
		} else {
			assert.Equal(t, uint32(0), geo.VolumeStartBlock)
		}

		free, err := vol.FreeClusterCount()
		require.NoError(t, err)
		if tv.layout.FATType == FAT32 {
			// The root directory uses one cluster.
			assert.Equal(t, geo.ClusterCount-1, free)
		} else {
			assert.Equal(t, geo.ClusterCount, free)
		}

		root, err := fs.Open("/", O_READ)
		require.NoError(t, err)
		assert.True(t, root.IsRoot())
		names, err := root.Readdirnames(-1)
		require.NoError(t, err)
		assert.Empty(t, names, "the volume label is no file")
		require.NoError(t, root.Close())

		require.NoError(t, fs.Close())
		assert.ErrorIs(t, fs.Close(), ErrNotMounted)
	})
}

func TestNew_Partition(t *testing.T) {
	ram := testingFormat(t, testVolumes[1])

	tests := []struct {
		name    string
		part    int
		wantErr error
	}{
		{name: "auto", part: PartitionAuto},
		{name: "partition 1", part: 1},
		{name: "empty partition 2", part: 2, wantErr: ErrInvalidPart},
		{name: "no partition table", part: PartitionNone, wantErr: ErrInvalidVolume},
		{name: "partition 5", part: 5, wantErr: ErrInvalidPart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := New(ram, WithPartition(tt.part))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, fs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint8(FAT16), fs.Volume().FATType())
		})
	}
}

func TestNew_InvalidVolume(t *testing.T) {
	t.Run("blank device", func(t *testing.T) {
		_, err := New(blockdev.NewRAM(1024))
		assert.ErrorIs(t, err, ErrInvalidVolume)
	})

	t.Run("4096 byte sectors", func(t *testing.T) {
		ram := testingFormat(t, testVolumes[0])
		boot := ram.Bytes(0)
		boot[11], boot[12] = 0x00, 0x10
		require.NoError(t, ram.WriteBlock(0, boot))

		vol, err := Mount(ram, PartitionNone)
		assert.ErrorIs(t, err, ErrInvalidVolume)
		assert.Nil(t, vol)
	})

	t.Run("unreadable device", func(t *testing.T) {
		ram := testingFormat(t, testVolumes[0])
		errBroken := errors.New("broken")
		ram.FailRead = func(block uint32) error { return errBroken }

		vol := NewVolume()
		err := vol.Init(ram, PartitionNone)
		assert.ErrorIs(t, err, errBroken)
		assert.ErrorIs(t, err, ErrInvalidVolume)
		assert.False(t, vol.IsMounted())
		assert.ErrorIs(t, vol.Sync(), ErrNotMounted)
	})
}

func TestBegin(t *testing.T) {
	sim := cardsim.New(sdspi.TypeSDHC, 8192)

	card := sdspi.NewCard()
	require.NoError(t, card.Init(sim, sim, sdspi.FullSpeed))
	_, err := Format(card, 8192, Layout{Partition: true, Label: "CARD"})
	require.NoError(t, err)

	fs, err := Begin(sim, sim, sdspi.FullSpeed)
	require.NoError(t, err)
	require.NotNil(t, fs.Card())
	assert.Equal(t, sdspi.TypeSDHC, fs.Card().Type())
	assert.Equal(t, uint8(FAT12), fs.Volume().FATType())

	content := bytes.Repeat([]byte("patch data "), 300)
	testingWriteFile(t, fs, "PATCH01.SYX", content)
	require.NoError(t, fs.Close())

	// Mount again from the card content.
	fs, err = Begin(sim, sim, sdspi.HalfSpeed)
	require.NoError(t, err)
	assert.Equal(t, content, testingReadFile(t, fs, "/patch01.syx"))
}

func TestBegin_Fails(t *testing.T) {
	sim := cardsim.New(sdspi.TypeSDHC, 8192)
	sim.SetUnresponsive(true)

	_, err := Begin(sim, sim, sdspi.FullSpeed)
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.ErrorIs(t, err, sdspi.ErrTimeout)

	t.Run("unformatted card", func(t *testing.T) {
		sim := cardsim.New(sdspi.TypeSD2, 8192)
		_, err := Begin(sim, sim, sdspi.FullSpeed)
		assert.ErrorIs(t, err, ErrInvalidVolume)
	})
}

func TestFs_Chdir(t *testing.T) {
	forEachVolume(t, func(t *testing.T, tv testVolume) {
		fs, _ := testingNew(t, tv)

		require.NoError(t, fs.Mkdir("PATCHES"))
		require.NoError(t, fs.Mkdir("/PATCHES/BANK1/"))
		testingWriteFile(t, fs, "/PATCHES/BANK1/PIANO.SYX", []byte("piano"))
		testingWriteFile(t, fs, "README.TXT", []byte("readme"))

		require.NoError(t, fs.Chdir("patches"))
		require.NoError(t, fs.Chdir("bank1"))
		assert.Equal(t, []byte("piano"), testingReadFile(t, fs, "piano.syx"))

		// Absolute paths ignore the working directory.
		assert.Equal(t, []byte("readme"), testingReadFile(t, fs, "/readme.txt"))

		cwd, err := fs.Open(".", O_READ)
		require.NoError(t, err)
		names, err := cwd.Readdirnames(-1)
		require.NoError(t, err)
		assert.Equal(t, []string{"PIANO.SYX"}, names)
		require.NoError(t, cwd.Close())

		_, err = fs.Open(".", O_WRITE)
		assert.ErrorIs(t, err, ErrReadOnly)

		err = fs.Chdir("/README.TXT")
		assert.ErrorIs(t, err, ErrNotDir)
		err = fs.Chdir("MISSING")
		assert.ErrorIs(t, err, ErrNotFound)

		// A failed Chdir keeps the working directory.
		assert.Equal(t, []byte("piano"), testingReadFile(t, fs, "PIANO.SYX"))

		require.NoError(t, fs.ChdirRoot())
		_, err = fs.Open("PIANO.SYX", O_READ)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFs_Stat(t *testing.T) {
	forEachVolume(t, func(t *testing.T, tv testVolume) {
		fs, _ := testingNew(t, tv)
		require.NoError(t, fs.Mkdir("DIR"))
		testingWriteFile(t, fs, "DIR/FILE.BIN", make([]byte, 1234))

		tests := []struct {
			path     string
			wantName string
			wantDir  bool
			wantSize int64
			wantErr  error
		}{
			{path: "/", wantName: ".", wantDir: true},
			{path: "dir", wantName: "DIR", wantDir: true},
			{path: "dir/file.bin", wantName: "FILE.BIN", wantSize: 1234},
			{path: "dir/other.bin", wantErr: ErrNotFound},
			{path: "dir/file.bin/x", wantErr: ErrNotDir},
			{path: "dir/toolongname.bin", wantErr: ErrInvalidName},
		}
		for _, tt := range tests {
			t.Run(tt.path, func(t *testing.T) {
				info, err := fs.Stat(tt.path)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantName, info.Name())
				assert.Equal(t, tt.wantDir, info.IsDir())
				assert.Equal(t, tt.wantSize, info.Size())
				if tt.path == "/" {
					// The root has no directory entry.
					assert.True(t, info.ModTime().IsZero())
				} else {
					assert.Equal(t, 2000, info.ModTime().Year())
				}
			})
		}
	})
}

func TestFs_Mkdir(t *testing.T) {
	forEachVolume(t, func(t *testing.T, tv testVolume) {
		fs, _ := testingNew(t, tv)

		require.NoError(t, fs.Mkdir("A"))
		assert.ErrorIs(t, fs.Mkdir("A"), ErrExist)
		assert.ErrorIs(t, fs.Mkdir("B/C"), ErrNotFound)

		dir, err := fs.Open("A", O_READ)
		require.NoError(t, err)
		defer dir.Close()
		assert.Equal(t, fs.Volume().Geometry().ClusterSize(), dir.Size())

		// "." and ".." are written but not listed.
		names, err := dir.Readdirnames(-1)
		require.NoError(t, err)
		assert.Empty(t, names)

		b := fs.Volume().cacheBlock()
		_, err = fs.Volume().cacheFetch(fs.Volume().clusterStartBlock(dir.FirstCluster()), cacheForRead)
		require.NoError(t, err)
		dot := decodeEntry(b.entry(0))
		dotDot := decodeEntry(b.entry(1))
		assert.Equal(t, ".", shortName(dot.Name))
		assert.Equal(t, dir.FirstCluster(), dot.FirstCluster())
		assert.Equal(t, "..", shortName(dotDot.Name))
		assert.Equal(t, uint32(0), dotDot.FirstCluster())
	})
}

func TestFs_RootFull(t *testing.T) {
	tv := testVolume{name: "small root", blocks: 4096, layout: Layout{FATType: FAT12, RootEntries: 16}}
	fs, _ := testingNew(t, tv)

	for i := 0; i < 16; i++ {
		testingWriteFile(t, fs, string(rune('A'+i))+".TXT", []byte{byte(i)})
	}

	_, err := fs.Open("Q.TXT", O_CREAT|O_WRITE)
	assert.ErrorIs(t, err, ErrDirFull)

	// Existing files can still be opened.
	assert.Equal(t, []byte{15}, testingReadFile(t, fs, "P.TXT"))
}

// TestVolume_FATMirror checks that a dirty FAT block is written to every FAT
// copy before another block is read.
func TestVolume_FATMirror(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	dev := NewMockBlockDevice(ctrl)

	vol := testingVolume(dev, Geometry{
		FATType:          FAT16,
		BlocksPerCluster: 1,
		FATCount:         3,
		BlocksPerFAT:     10,
		FATStartBlock:    1,
		ClusterCount:     1000,
		DataStartBlock:   64,
	})

	gomock.InOrder(
		dev.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(nil),
		dev.EXPECT().WriteBlock(uint32(1), gomock.Any()).DoAndReturn(func(block uint32, src []byte) error {
			assert.Equal(t, []byte{0xFF, 0xFF}, src[10:12])
			return nil
		}),
		dev.EXPECT().WriteBlock(uint32(11), gomock.Any()).Return(nil),
		dev.EXPECT().WriteBlock(uint32(21), gomock.Any()).Return(nil),
		dev.EXPECT().ReadBlock(uint32(64), gomock.Any()).Return(nil),
	)

	require.NoError(t, vol.fatPutEOC(5))
	_, err := vol.cacheFetch(64, cacheForRead)
	require.NoError(t, err)

	// Nothing is dirty anymore.
	require.NoError(t, vol.Sync())
}

func TestVolume_FATMirrorFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	dev := NewMockBlockDevice(ctrl)

	vol := testingVolume(dev, Geometry{FATType: FAT16, BlocksPerCluster: 1, FATCount: 2, BlocksPerFAT: 10, FATStartBlock: 1, ClusterCount: 1000})

	errWrite := errors.New("write failed")
	gomock.InOrder(
		dev.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(nil),
		dev.EXPECT().WriteBlock(uint32(1), gomock.Any()).Return(nil),
		dev.EXPECT().WriteBlock(uint32(11), gomock.Any()).Return(errWrite),
	)

	require.NoError(t, vol.fatPut(2, 3))
	err := vol.Sync()
	assert.ErrorIs(t, err, errWrite)
	assert.ErrorIs(t, err, ErrCache)
}
