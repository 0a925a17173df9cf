package sdlite

import (
	"errors"
	"io/fs"

	"github.com/aligator/sdlite/checkpoint"
)

type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode {
	return g.FileInfo.Mode().Type()
}

func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.FileInfo, nil
}

type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.File.Stat()
}

func (g GoFile) Read(bytes []byte) (int, error) {
	return g.File.Read(bytes)
}

func (g GoFile) Close() error {
	return g.File.Close()
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)

	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}

	return goEntries, err
}

// GoFs provides the volume of an Fs as read only fs.FS.
// Paths always start at the root, independent of the working directory.
type GoFs struct {
	*Fs
}

// NewGoFS mounts dev like New and returns it as fs.FS.
func NewGoFS(dev BlockDevice, opts ...Option) (*GoFs, error) {
	fs, err := New(dev, opts...)
	if err != nil {
		return nil, err
	}

	return &GoFs{fs}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	path := "/" + name
	if name == "." {
		path = "/"
	}

	file, err := g.Fs.Open(path, O_READ)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	return GoFile{file}, nil
}

// Stat hides Fs.Stat, which resolves name relative to the working directory.
func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	f, err := g.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: errors.Unwrap(err)}
	}
	defer f.Close()

	return f.Stat()
}

// pathError wraps err in a fs.PathError which also matches the matching
// error of the io/fs package.
func pathError(op, name string, err error) error {
	var target error
	switch {
	case errors.Is(err, ErrNotFound):
		target = fs.ErrNotExist
	case errors.Is(err, ErrExist):
		target = fs.ErrExist
	case errors.Is(err, ErrReadOnly), errors.Is(err, ErrPermission):
		target = fs.ErrPermission
	case errors.Is(err, ErrInvalidName):
		target = fs.ErrInvalid
	}

	if target != nil {
		err = checkpoint.Wrap(err, target)
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}
