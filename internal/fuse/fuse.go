//go:build linux
// +build linux

package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/aligator/sdlite"
	"github.com/sirupsen/logrus"
)

// FS serves a mounted volume read-only. The sdlite.Fs is not safe for
// concurrent use, so every request holds mtx while it touches the volume.
type FS struct {
	mtx  sync.Mutex
	fsys *sdlite.Fs
	log  logrus.FieldLogger
}

// New returns the FUSE tree of fsys.
func New(fsys *sdlite.Fs, log logrus.FieldLogger) *FS {
	return &FS{
		fsys: fsys,
		log:  log,
	}
}

func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: "/"}, nil
}

// Statfs reports the size of the volume in clusters.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	vol := f.fsys.Volume()
	free, err := vol.FreeClusterCount()
	if err != nil {
		return f.errno(err)
	}

	geo := vol.Geometry()
	resp.Blocks = uint64(geo.ClusterCount)
	resp.Bfree = uint64(free)
	resp.Bavail = uint64(free)
	resp.Bsize = geo.ClusterSize()
	resp.Frsize = geo.ClusterSize()
	resp.Namelen = 12
	return nil
}

// errno maps the errors of the volume to the errors the kernel expects.
func (f *FS) errno(err error) error {
	switch {
	case errors.Is(err, sdlite.ErrNotFound), errors.Is(err, sdlite.ErrInvalidName):
		return fuse.ENOENT
	case errors.Is(err, sdlite.ErrNotDir):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.Is(err, sdlite.ErrReadOnly), errors.Is(err, sdlite.ErrPermission):
		return fuse.Errno(syscall.EROFS)
	}

	f.log.WithError(err).Warn("fuse request failed")
	return fuse.EIO
}

func (f *FS) stat(p string) (os.FileInfo, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	info, err := f.fsys.Stat(p)
	if err != nil {
		return nil, f.errno(err)
	}
	return info, nil
}

// inode uses the first cluster, which is unique for everything but empty
// files. 0 lets the server assign one.
func inode(info os.FileInfo) uint64 {
	if entry, ok := info.Sys().(sdlite.EntryHeader); ok {
		return uint64(entry.FirstCluster())
	}
	return 0
}

func fillAttr(a *fuse.Attr, info os.FileInfo) {
	a.Inode = inode(info)
	a.Mtime = info.ModTime()
	a.Ctime = info.ModTime()
	a.Size = uint64(info.Size())
	a.Blocks = (a.Size + 511) / 512
	// Nothing can be written through the mount.
	a.Mode = info.Mode() &^ 0o222
}

// Dir implements both fs.Node and fs.HandleReadDirAller
type Dir struct {
	fs   *FS
	path string
}

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	if d.path == "/" {
		a.Inode = 1
		a.Mode = os.ModeDir | 0o555
		return nil
	}

	info, err := d.fs.stat(d.path)
	if err != nil {
		return err
	}
	fillAttr(a, info)
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := path.Join(d.path, name)
	info, err := d.fs.stat(p)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return &Dir{fs: d.fs, path: p}, nil
	}
	return &File{fs: d.fs, path: p}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	d.fs.mtx.Lock()
	defer d.fs.mtx.Unlock()

	dir, err := d.fs.fsys.Open(d.path, sdlite.O_READ)
	if err != nil {
		return nil, d.fs.errno(err)
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return nil, d.fs.errno(err)
	}

	dirEntries := make([]fuse.Dirent, len(infos))
	for i, info := range infos {
		dirEntries[i] = fuse.Dirent{
			Inode: inode(info),
			Name:  info.Name(),
			Type:  fuse.DT_File,
		}
		if info.IsDir() {
			dirEntries[i].Type = fuse.DT_Dir
		}
	}
	sort.Slice(dirEntries, func(i, j int) bool {
		return dirEntries[i].Name < dirEntries[j].Name
	})
	return dirEntries, nil
}

// File implements fs.Node and fs.NodeOpener
type File struct {
	fs   *FS
	path string
}

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.fs.stat(f.path)
	if err != nil {
		return err
	}
	fillAttr(a, info)
	return nil
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fuse.Errno(syscall.EROFS)
	}

	f.fs.mtx.Lock()
	defer f.fs.mtx.Unlock()

	file, err := f.fs.fsys.Open(f.path, sdlite.O_READ)
	if err != nil {
		return nil, f.fs.errno(err)
	}
	return &Handle{fs: f.fs, file: file}, nil
}

// Handle is an open file. It implements fs.HandleReader and fs.HandleReleaser
type Handle struct {
	fs   *FS
	file *sdlite.File
}

func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.fs.mtx.Lock()
	defer h.fs.mtx.Unlock()

	size := int64(h.file.Size())
	if req.Offset >= size {
		// Trying to read past EOF
		resp.Data = []byte{}
		return nil
	}

	n := int64(req.Size)
	// Clamp size if reading near EOF
	if req.Offset+n > size {
		n = size - req.Offset
	}

	buf := make([]byte, n)
	read, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return h.fs.errno(err)
	}

	resp.Data = buf[:read]
	return nil
}

func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.fs.mtx.Lock()
	defer h.fs.mtx.Unlock()

	if err := h.file.Close(); err != nil {
		return h.fs.errno(err)
	}
	return nil
}
