package sdlite

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/spf13/afero"
)

var _ afero.File = (*File)(nil)
var _ afero.Fs = AferoFs{}

// AferoFs provides the volume of an Fs as afero.Fs.
// Paths always start at the root, independent of the working directory.
// Everything which would shrink or rewrite the FAT (Remove, Rename, truncating
// non-empty files) and changing attributes returns ErrNotSupported.
type AferoFs struct {
	fs *Fs
}

// NewAferoFs returns fs as afero.Fs.
func NewAferoFs(fs *Fs) AferoFs {
	return AferoFs{fs: fs}
}

func absPath(name string) string {
	return path.Clean("/" + filepath.ToSlash(name))
}

// openFlags converts os.OpenFile flags.
func openFlags(flag int) OpenFlag {
	var flags OpenFlag
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		flags = O_WRITE
	case os.O_RDWR:
		flags = O_RDWR
	default:
		flags = O_READ
	}

	for _, f := range []struct {
		os    int
		flags OpenFlag
	}{
		{os.O_APPEND, O_APPEND},
		{os.O_CREATE, O_CREAT},
		{os.O_EXCL, O_EXCL},
		{os.O_SYNC, O_SYNC},
		{os.O_TRUNC, O_TRUNC},
	} {
		if flag&f.os != 0 {
			flags |= f.flags
		}
	}
	return flags
}

func (a AferoFs) Create(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (a AferoFs) Mkdir(name string, perm os.FileMode) error {
	if err := a.fs.Mkdir(absPath(name)); err != nil {
		return pathError("mkdir", name, err)
	}
	return nil
}

func (a AferoFs) MkdirAll(p string, perm os.FileMode) error {
	dir := "/"
	for _, elem := range strings.Split(strings.Trim(absPath(p), "/"), "/") {
		if elem == "" {
			continue
		}
		dir = path.Join(dir, elem)

		info, err := a.fs.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return pathError("mkdir", p, checkpoint.Wrapf(ErrNotDir, ErrNotDir, "%q", dir))
		}

		if err := a.fs.Mkdir(dir); err != nil {
			return pathError("mkdir", p, err)
		}
	}
	return nil
}

func (a AferoFs) Open(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDONLY, 0)
}

func (a AferoFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := a.fs.Open(absPath(name), openFlags(flag))
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return f, nil
}

func (a AferoFs) Remove(name string) error {
	return pathError("remove", name, checkpoint.New(ErrNotSupported))
}

func (a AferoFs) RemoveAll(p string) error {
	return pathError("removeall", p, checkpoint.New(ErrNotSupported))
}

func (a AferoFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: checkpoint.New(ErrNotSupported)}
}

func (a AferoFs) Stat(name string) (os.FileInfo, error) {
	info, err := a.fs.Stat(absPath(name))
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return info, nil
}

func (a AferoFs) Name() string {
	return "sdlite"
}

func (a AferoFs) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, checkpoint.New(ErrNotSupported))
}

func (a AferoFs) Chown(name string, uid, gid int) error {
	return pathError("chown", name, checkpoint.New(ErrNotSupported))
}

func (a AferoFs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, checkpoint.New(ErrNotSupported))
}
