package sdlite

import (
	"os"
	"strings"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/aligator/sdlite/sdspi"
	"github.com/sirupsen/logrus"
)

// Fs is the entry point of the library. It mounts a volume and keeps a
// working directory which relative paths start at.
// Like all types of the package it is not safe for concurrent use.
type Fs struct {
	vol  *Volume
	card *sdspi.Card
	cwd  File

	log logrus.FieldLogger
}

// New mounts the volume on dev and opens the root as working directory.
// The partition is selected by WithPartition, by default partition 1 is tried
// first and then a volume without partition table.
func New(dev BlockDevice, opts ...Option) (*Fs, error) {
	vol := NewVolume(opts...)

	var err error
	if part := vol.opts.partition; part == PartitionAuto {
		err = vol.InitAuto(dev)
	} else {
		err = vol.Init(dev, part)
	}
	if err != nil {
		return nil, err
	}

	fs := &Fs{
		vol: vol,
		log: vol.log,
	}
	if err := fs.cwd.OpenRoot(vol); err != nil {
		return nil, err
	}
	return fs, nil
}

// Begin initializes the SD card on bus and cs at the given speed and mounts it like New.
func Begin(bus sdspi.Bus, cs sdspi.Pin, speed sdspi.Speed, opts ...Option) (*Fs, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	card := sdspi.NewCard(sdspi.WithConfig(o.cardConfig), sdspi.WithLogger(o.log))
	if err := card.Init(bus, cs, speed); err != nil {
		return nil, checkpoint.Wrap(err, ErrNotMounted)
	}

	fs, err := New(card, opts...)
	if err != nil {
		return nil, err
	}
	fs.card = card
	return fs, nil
}

// Volume returns the mounted volume.
func (fs *Fs) Volume() *Volume {
	return fs.vol
}

// Card returns the SD card if the Fs was created by Begin, otherwise nil.
func (fs *Fs) Card() *sdspi.Card {
	return fs.card
}

// Chdir changes the working directory. Relative paths start at the current
// working directory, "/" is the root.
func (fs *Fs) Chdir(path string) error {
	if path == "" || path == "." {
		return nil
	}

	dir := File{}
	if err := fs.openFile(&dir, path, O_READ); err != nil {
		return err
	}
	if !dir.IsDir() {
		_ = dir.Close()
		return checkpoint.Wrapf(ErrNotDir, ErrNotDir, "%q", path)
	}

	// The working directory is read only, so close cannot fail in a relevant way.
	_ = fs.cwd.Close()
	fs.cwd = dir
	fs.log.WithField("path", path).Debug("changed directory")
	return nil
}

// ChdirRoot changes the working directory to the root.
func (fs *Fs) ChdirRoot() error {
	return fs.Chdir("/")
}

// Open opens path relative to the working directory and returns the new File.
func (fs *Fs) Open(path string, flags OpenFlag) (*File, error) {
	f := &File{}
	if err := fs.openFile(f, path, flags); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile opens path into the caller owned file f, which has to be closed.
func (fs *Fs) OpenFile(f *File, path string, flags OpenFlag) error {
	if f.IsOpen() {
		return checkpoint.New(ErrAlreadyOpen)
	}
	return fs.openFile(f, path, flags)
}

func (fs *Fs) openFile(f *File, path string, flags OpenFlag) error {
	if !fs.cwd.IsOpen() {
		return checkpoint.New(ErrNotMounted)
	}

	switch {
	case strings.Trim(path, "/") == "" && strings.HasPrefix(path, "/"):
		if flags&(O_WRITE|O_TRUNC) != 0 {
			return checkpoint.Wrapf(ErrReadOnly, ErrReadOnly, "%q", path)
		}
		return f.OpenRoot(fs.vol)
	case path == "" || path == ".":
		if flags&(O_WRITE|O_TRUNC) != 0 {
			return checkpoint.Wrapf(ErrReadOnly, ErrReadOnly, "%q", path)
		}
		// The working directory itself, with its own position.
		*f = fs.cwd
		f.Rewind()
		return nil
	}

	return f.Open(&fs.cwd, strings.TrimSuffix(path, "/"), flags)
}

// Mkdir creates the directory path. Its parent has to exist.
func (fs *Fs) Mkdir(path string) error {
	if !fs.cwd.IsOpen() {
		return checkpoint.New(ErrNotMounted)
	}

	dir := File{}
	if err := dir.MakeDir(&fs.cwd, strings.TrimSuffix(path, "/")); err != nil {
		return err
	}
	return dir.Close()
}

// Stat returns the FileInfo of path.
func (fs *Fs) Stat(path string) (os.FileInfo, error) {
	f := File{}
	if err := fs.openFile(&f, path, O_READ); err != nil {
		return nil, err
	}
	defer f.Close()

	return f.Stat()
}

// Sync writes the cached block of the volume.
func (fs *Fs) Sync() error {
	return fs.vol.Sync()
}

// Close syncs the volume and closes the working directory. Open files have
// to be closed before.
func (fs *Fs) Close() error {
	if !fs.cwd.IsOpen() {
		return checkpoint.New(ErrNotMounted)
	}
	err := fs.cwd.Close()
	if syncErr := fs.vol.Sync(); err == nil {
		err = syncErr
	}
	return err
}
