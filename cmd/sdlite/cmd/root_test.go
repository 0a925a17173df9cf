package cmd

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aligator/sdlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	root := NewRootCommand()
	root.SetOut(out)
	root.SetErr(ioutil.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "card.img")
	src := filepath.Join(dir, "PATCH.SYX")
	require.NoError(t, ioutil.WriteFile(src, bytes.Repeat([]byte{0xF0, 0x43, 0x10, 0xF7}, 300), 0644))

	out, err := run(t, "mkfs", img, "--blocks", "8192", "--mbr", "--label", "synth")
	require.NoError(t, err)
	assert.Equal(t, "FAT12, 4036 clusters of 1024 bytes\n", out)

	_, err = run(t, "mkdir", img, "BANKS/FACTORY", "-P")
	require.NoError(t, err)
	_, err = run(t, "mkdir", img, "BANKS")
	assert.ErrorIs(t, err, sdlite.ErrExist)

	_, err = run(t, "put", img, src)
	require.NoError(t, err)
	_, err = run(t, "put", img, src, "BANKS/FACTORY/A.SYX")
	require.NoError(t, err)
	_, err = run(t, "put", img, src)
	assert.ErrorIs(t, err, sdlite.ErrExist, "existing files need --append")

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, ioutil.WriteFile(notes, []byte("first\n"), 0644))
	_, err = run(t, "put", img, notes, "NOTES.TXT")
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(notes, []byte("second\n"), 0644))
	_, err = run(t, "put", img, notes, "NOTES.TXT", "--append", "--sync")
	require.NoError(t, err)

	out, err = run(t, "cat", img, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", out)

	out, err = run(t, "cat", img, "BANKS/FACTORY/A.SYX", "--partition", "1")
	require.NoError(t, err)
	assert.Equal(t, 1200, len(out))

	_, err = run(t, "cat", img, "NOTES.TXT", "--partition", "0")
	assert.ErrorIs(t, err, sdlite.ErrInvalidVolume)

	out, err = run(t, "ls", img, "-r")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	var names []string
	for _, l := range lines {
		fields := strings.Fields(l)
		names = append(names, fields[len(fields)-1])
	}
	assert.ElementsMatch(t, []string{"/BANKS", "/PATCH.SYX", "/NOTES.TXT", "/BANKS/FACTORY", "/BANKS/FACTORY/A.SYX"}, names)

	out, err = run(t, "info", img, "--mmap")
	require.NoError(t, err)
	assert.Contains(t, out, "FAT type:           FAT12\n")
	assert.Contains(t, out, "Volume start:       63\n")
	// BANKS, FACTORY, NOTES.TXT and two clusters for each SYX file.
	assert.Contains(t, out, "Clusters:           4036 (4029 free)\n")
}

func TestConfig(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "card.img")
	_, err := run(t, "mkfs", img, "--blocks", "4096")
	require.NoError(t, err)

	cfg := filepath.Join(dir, "sdlite.yml")
	require.NoError(t, ioutil.WriteFile(cfg, []byte("partition: 1\n"), 0644))
	_, err = run(t, "ls", img, "--config", cfg)
	assert.ErrorIs(t, err, sdlite.ErrInvalidPart, "the image has no partition table")

	_, err = run(t, "ls", img, "--config", cfg, "--partition", "0")
	assert.NoError(t, err, "flags override the config")

	require.NoError(t, ioutil.WriteFile(cfg, []byte("log_level: debug\nmax_dir_entries: 2\n"), 0644))
	_, err = run(t, "ls", img, "--config", cfg)
	assert.NoError(t, err)

	_, err = run(t, "ls", img, "--log-level", "chatty")
	assert.Error(t, err)

	_, err = run(t, "ls", img, "--config", filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func Test_getMountpoint(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{image: "/tmp/card.img", want: "card"},
		{image: "sd.card.img", want: "sd.card"},
		{image: "/dev/mmcblk0", want: "mmcblk0_mnt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getMountpoint(tt.image))
	}
}
