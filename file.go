package sdlite

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// OpenFlag controls how a file is opened.
type OpenFlag uint8

// Open flags. They can be combined, e.g. O_CREAT | O_WRITE.
const (
	O_READ  OpenFlag = 0x01
	O_WRITE OpenFlag = 0x02
	O_RDWR           = O_READ | O_WRITE
	// O_APPEND moves to the end of the file before each write.
	O_APPEND OpenFlag = 0x04
	// O_SYNC syncs after each write.
	O_SYNC OpenFlag = 0x08
	// O_TRUNC truncates the file. Only supported for empty files.
	O_TRUNC OpenFlag = 0x10
	// O_AT_END sets the initial position to the end of the file.
	O_AT_END OpenFlag = 0x20
	// O_CREAT creates the file if it does not exist. Needs O_WRITE.
	O_CREAT OpenFlag = 0x40
	// O_EXCL fails if the file already exists.
	O_EXCL OpenFlag = 0x80
)

type fileType uint8

const (
	typeClosed fileType = iota
	typeNormal
	typeRootFixed
	typeRootCluster
	typeSubdir
)

// fileVolume provides everything a File needs from the Volume it lives on.
type fileVolume interface {
	Geometry() Geometry
	Device() BlockDevice

	cacheFetch(block uint32, mode cacheMode) (*Block, error)
	cacheSync() error
	cacheInvalidate()
	cacheBlockNumber() uint32
	cacheBlock() *Block

	fatGet(cluster uint32) (uint32, error)
	allocContiguous(count, cluster uint32) (uint32, error)
	isEOC(value uint32) bool
	clusterStartBlock(cluster uint32) uint32
	blockOfCluster(position uint32) uint8

	limits() *options
}

// File is an open file or directory. The zero value is a closed File which
// can be used with the Open methods.
// A File is not safe for concurrent use and all Files of a Volume share its
// single block cache.
type File struct {
	vol fileVolume
	typ fileType

	flags OpenFlag
	// dirDirty is set if size or first cluster differ from the directory entry.
	dirDirty   bool
	writeError bool

	position     uint32
	curCluster   uint32
	firstCluster uint32
	size         uint32

	// Location of the directory entry of the file.
	dirBlock uint32
	dirIndex uint8

	// entry is the directory entry as it was opened. Not used for the root.
	entry EntryHeader
}

// IsOpen reports whether f is open.
func (f *File) IsOpen() bool {
	return f.typ != typeClosed
}

// IsDir reports whether f is a directory, including the root directory.
func (f *File) IsDir() bool {
	return f.typ >= typeRootFixed
}

// IsRoot reports whether f is the root directory.
func (f *File) IsRoot() bool {
	return f.typ == typeRootFixed || f.typ == typeRootCluster
}

// IsFile reports whether f is a regular file.
func (f *File) IsFile() bool {
	return f.typ == typeNormal
}

// WriteError reports whether any write or sync failed since the last ClearWriteError.
func (f *File) WriteError() bool {
	return f.writeError
}

// ClearWriteError resets the sticky write error.
func (f *File) ClearWriteError() {
	f.writeError = false
}

// Position returns the current byte position.
func (f *File) Position() uint32 {
	return f.position
}

// Size returns the size in bytes. For directories it is derived from the cluster chain.
func (f *File) Size() uint32 {
	return f.size
}

// FirstCluster returns the first cluster of the file or 0 if nothing was allocated yet.
func (f *File) FirstCluster() uint32 {
	return f.firstCluster
}

// Name returns the short name of the file, "." for the root directory.
func (f *File) Name() string {
	if f.IsRoot() {
		return "."
	}
	return shortName(f.entry.Name)
}

func (f *File) log() logrus.FieldLogger {
	return f.vol.limits().log
}

// OpenRoot opens the root directory of vol.
func (f *File) OpenRoot(vol *Volume) error {
	if f.IsOpen() {
		return checkpoint.New(ErrAlreadyOpen)
	}
	if vol == nil {
		return checkpoint.New(ErrNotMounted)
	}

	return f.openRoot(vol)
}

func (f *File) openRoot(vol fileVolume) error {
	geo := vol.Geometry()
	f.vol = vol

	switch geo.FATType {
	case FAT12, FAT16:
		f.typ = typeRootFixed
		f.firstCluster = 0
		f.size = DirEntrySize * uint32(geo.RootDirEntryCount)
	case FAT32:
		f.typ = typeRootCluster
		f.firstCluster = geo.RootDirStart
		if err := f.setDirSize(); err != nil {
			f.typ = typeClosed
			return err
		}
	default:
		return checkpoint.New(ErrNotMounted)
	}

	f.flags = O_READ
	f.dirDirty = false
	f.curCluster = 0
	f.position = 0

	// The root has no directory entry.
	f.dirBlock = 0
	f.dirIndex = 0
	f.entry = EntryHeader{Attribute: AttrDirectory}
	return nil
}

// Open opens the file or directory at path relative to dir.
// A leading '/' starts at the root directory of the volume of dir.
func (f *File) Open(dir *File, path string, flags OpenFlag) error {
	return f.walk(dir, path, func(parent *File, name [11]byte) error {
		return f.openName(parent, name, flags)
	})
}

// MakeDir creates the directory at path relative to dir and leaves it open in f.
// All parent directories have to exist.
func (f *File) MakeDir(dir *File, path string) error {
	return f.walk(dir, path, func(parent *File, name [11]byte) error {
		return f.makeDir(parent, name)
	})
}

// walk opens all directories of path up to its last element and calls last
// with the directory containing it.
func (f *File) walk(dir *File, path string, last func(parent *File, name [11]byte) error) error {
	if dir == nil || !dir.IsOpen() {
		return checkpoint.Wrapf(ErrNotOpen, ErrNotOpen, "parent of %q", path)
	}
	if f.IsOpen() {
		return checkpoint.New(ErrAlreadyOpen)
	}

	parent := dir
	// Intermediate directories are read only so closing them cannot fail in a relevant way.
	closeParent := func() {
		if parent != dir {
			_ = parent.Close()
		}
	}

	if strings.HasPrefix(path, "/") {
		path = strings.TrimLeft(path, "/")
		if !dir.IsRoot() {
			root := &File{}
			if err := root.openRoot(dir.vol); err != nil {
				return err
			}
			parent = root
		}
	}

	for {
		name, rest, err := make83Name(path)
		if err != nil {
			closeParent()
			return err
		}

		path = strings.TrimLeft(rest, "/")
		if path == "" {
			err = last(parent, name)
			closeParent()
			return err
		}

		sub := &File{}
		if err := sub.openName(parent, name, O_READ); err != nil {
			closeParent()
			return err
		}
		closeParent()
		parent = sub
	}
}

// openName searches name in dir and opens or creates it.
func (f *File) openName(dir *File, name [11]byte, flags OpenFlag) error {
	if !dir.IsDir() {
		return checkpoint.Wrapf(ErrNotDir, ErrNotDir, "search %q", shortName(name))
	}

	f.vol = dir.vol
	dir.Rewind()

	var (
		emptyFound bool
		fileFound  bool
		index      uint8
	)

	for dir.position < dir.size {
		index = uint8(dir.position>>5) & 0xF
		b, err := dir.readDirCache()
		if err != nil {
			return err
		}

		raw := b.entry(index)
		if raw[0] == dirNameFree || raw[0] == dirNameDeleted {
			// Remember the first empty slot.
			if !emptyFound {
				f.dirBlock = f.vol.cacheBlockNumber()
				f.dirIndex = index
				emptyFound = true
			}
			if raw[0] == dirNameFree {
				break
			}
		} else if string(raw[:11]) == string(name[:]) {
			fileFound = true
			break
		}
	}

	if fileFound {
		if flags&O_EXCL != 0 {
			return checkpoint.Wrapf(ErrExist, ErrExist, "%q", shortName(name))
		}
		return f.openCachedEntry(index, flags)
	}

	if flags&O_CREAT == 0 || flags&O_WRITE == 0 {
		return checkpoint.Wrapf(ErrNotFound, ErrNotFound, "%q", shortName(name))
	}

	var b *Block
	if emptyFound {
		var err error
		b, err = f.vol.cacheFetch(f.dirBlock, cacheForWrite)
		if err != nil {
			return err
		}
		index = f.dirIndex
	} else {
		if dir.typ == typeRootFixed {
			return checkpoint.Wrapf(ErrDirFull, ErrDirFull, "root directory with %d entries", dir.size/DirEntrySize)
		}

		// The first block of the new cluster stays in the cache.
		var err error
		b, err = dir.addDirCluster()
		if err != nil {
			return err
		}
		index = 0
	}

	entry := EntryHeader{
		Name:           name,
		CreateDate:     DefaultDate,
		CreateTime:     DefaultTime,
		LastAccessDate: DefaultDate,
		WriteDate:      DefaultDate,
		WriteTime:      DefaultTime,
	}
	entry.encode(b.entry(index))

	// Write the entry before the file is reported as created.
	if err := f.vol.cacheSync(); err != nil {
		return err
	}

	f.log().WithField("name", shortName(name)).Debug("created directory entry")
	return f.openCachedEntry(index, flags)
}

// OpenIndex opens the entry with the given index of dir.
func (f *File) OpenIndex(dir *File, index uint16, flags OpenFlag) error {
	if dir == nil || !dir.IsOpen() {
		return checkpoint.New(ErrNotOpen)
	}
	if f.IsOpen() {
		return checkpoint.New(ErrAlreadyOpen)
	}
	if flags&O_EXCL != 0 {
		return checkpoint.Wrapf(ErrExist, ErrExist, "O_EXCL for index %d", index)
	}

	f.vol = dir.vol

	if err := dir.SeekSet(DirEntrySize * uint32(index)); err != nil {
		return err
	}

	b, err := dir.readDirCache()
	if err != nil {
		return err
	}

	raw := b.entry(uint8(index & 0xF))
	if raw[0] == dirNameFree || raw[0] == dirNameDeleted || raw[0] == '.' {
		return checkpoint.Wrapf(ErrNotFound, ErrNotFound, "index %d", index)
	}

	return f.openCachedEntry(uint8(index&0xF), flags)
}

// openCachedEntry opens the entry at index of the resident cache block.
func (f *File) openCachedEntry(index uint8, flags OpenFlag) error {
	entry := decodeEntry(f.vol.cacheBlock().entry(index))

	if entry.Attribute&(AttrReadOnly|AttrDirectory) != 0 && flags&(O_WRITE|O_TRUNC) != 0 {
		f.typ = typeClosed
		return checkpoint.Wrapf(ErrReadOnly, ErrReadOnly, "%q", shortName(entry.Name))
	}

	f.dirBlock = f.vol.cacheBlockNumber()
	f.dirIndex = index
	f.entry = entry
	f.firstCluster = entry.FirstCluster()

	switch {
	case entry.IsFile():
		f.size = entry.FileSize
		f.typ = typeNormal
	case entry.IsSubdir():
		if err := f.setDirSize(); err != nil {
			f.typ = typeClosed
			return err
		}
		f.typ = typeSubdir
	default:
		f.typ = typeClosed
		return checkpoint.Wrapf(ErrNotFound, ErrNotFound, "%q is a volume label", shortName(entry.Name))
	}

	if flags&O_TRUNC != 0 && f.size > 0 {
		f.typ = typeClosed
		return checkpoint.Wrapf(ErrNotSupported, ErrNotSupported, "truncate %q with %d bytes", shortName(entry.Name), f.size)
	}

	f.flags = flags
	f.dirDirty = false
	f.writeError = false
	f.curCluster = 0
	f.position = 0

	if flags&O_AT_END != 0 {
		return f.SeekEnd(0)
	}
	return nil
}

// setDirSize calculates the size of a directory from its cluster chain.
func (f *File) setDirSize() error {
	limit := f.vol.limits().maxDirBlocks
	geo := f.vol.Geometry()

	var blocks uint32
	cluster := f.firstCluster
	for {
		next, err := f.vol.fatGet(cluster)
		if err != nil {
			return err
		}

		blocks += uint32(geo.BlocksPerCluster)
		if blocks >= limit {
			return checkpoint.Wrapf(ErrCorruptDir, ErrCorruptDir, "directory at cluster %d has at least %d blocks", f.firstCluster, blocks)
		}

		if f.vol.isEOC(next) {
			break
		}
		cluster = next
	}

	f.size = BlockSize * blocks
	return nil
}

// addCluster appends a cluster to the chain of the file.
func (f *File) addCluster() error {
	cluster, err := f.vol.allocContiguous(1, f.curCluster)
	if err != nil {
		return err
	}
	f.curCluster = cluster

	if f.firstCluster == 0 {
		f.firstCluster = cluster
		f.dirDirty = true
	}
	return nil
}

// addDirCluster appends a zeroed cluster to the directory. The first block of
// the new cluster is returned resident in the cache.
func (f *File) addDirCluster() (*Block, error) {
	if f.size/DirEntrySize >= f.vol.limits().maxDirEntries {
		return nil, checkpoint.Wrapf(ErrDirFull, ErrDirFull, "directory with %d entries", f.size/DirEntrySize)
	}

	if err := f.addCluster(); err != nil {
		return nil, checkpoint.Wrap(err, ErrDirFull)
	}

	block := f.vol.clusterStartBlock(f.curCluster)
	b, err := f.vol.cacheFetch(block, cacheReserveForWrite)
	if err != nil {
		return nil, err
	}
	*b = Block{}

	geo := f.vol.Geometry()
	for i := uint32(1); i < uint32(geo.BlocksPerCluster); i++ {
		if err := f.vol.Device().WriteBlock(block+i, b[:]); err != nil {
			return nil, checkpoint.Wrapf(err, ErrDirFull, "zero block %d", block+i)
		}
	}

	f.size += geo.ClusterSize()
	f.log().WithFields(logrus.Fields{
		"cluster": f.curCluster,
		"size":    f.size,
	}).Debug("directory grown")
	return b, nil
}

// makeDir creates name as new directory in parent.
func (f *File) makeDir(parent *File, name [11]byte) error {
	if err := f.openName(parent, name, O_CREAT|O_EXCL|O_RDWR); err != nil {
		return err
	}

	// Turn the empty file into a directory.
	f.typ = typeSubdir
	f.flags = O_READ

	b, err := f.addDirCluster()
	if err != nil {
		_ = f.Close()
		return err
	}

	dot := EntryHeader{
		Name:           [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
		Attribute:      AttrDirectory,
		CreateDate:     DefaultDate,
		CreateTime:     DefaultTime,
		LastAccessDate: DefaultDate,
		WriteDate:      DefaultDate,
		WriteTime:      DefaultTime,
	}
	dot.setFirstCluster(f.firstCluster)
	dot.encode(b.entry(0))

	dotDot := dot
	dotDot.Name[1] = '.'
	// The root is always referenced by cluster 0.
	if parent.IsRoot() {
		dotDot.setFirstCluster(0)
	} else {
		dotDot.setFirstCluster(parent.firstCluster)
	}
	dotDot.encode(b.entry(1))

	entry, err := f.vol.cacheFetch(f.dirBlock, cacheForWrite)
	if err != nil {
		_ = f.Close()
		return err
	}
	raw := entry.entry(f.dirIndex)
	raw[11] = AttrDirectory
	f.entry.Attribute = AttrDirectory

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	f.log().WithField("name", shortName(name)).Debug("created directory")
	return nil
}

// readDirCache reads the next directory entry into the cache and returns the
// cache block. The entry index is (position>>5)&0xF before the call.
func (f *File) readDirCache() (*Block, error) {
	if !f.IsDir() {
		return nil, checkpoint.New(ErrNotDir)
	}

	var one [1]byte
	n, err := f.read(one[:])
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, io.EOF
	}

	// Skip the rest of the entry.
	f.position += DirEntrySize - 1
	return f.vol.cacheBlock(), nil
}

// ReadDirEntry returns the next used directory entry. Deleted entries, long
// name parts, volume labels and the "." and ".." entries are skipped.
// It returns io.EOF after the last entry.
func (f *File) ReadDirEntry() (EntryHeader, error) {
	if !f.IsDir() {
		return EntryHeader{}, checkpoint.New(ErrNotDir)
	}

	for f.position < f.size {
		index := uint8(f.position>>5) & 0xF
		b, err := f.readDirCache()
		if err != nil {
			return EntryHeader{}, err
		}

		entry := decodeEntry(b.entry(index))
		switch {
		case entry.Name[0] == dirNameFree:
			// Nothing follows a free entry.
			f.position = f.size
			return EntryHeader{}, io.EOF
		case entry.Name[0] == dirNameDeleted,
			entry.Name[0] == '.',
			entry.IsLongName(),
			entry.Attribute&AttrVolumeID != 0:
			continue
		}
		return entry, nil
	}

	return EntryHeader{}, io.EOF
}

// Readdir reads the next count entries of the directory. If count <= 0 all
// remaining entries are returned.
// If count > 0 and no entries are left it returns io.EOF.
// May return syscall.ENOTDIR if f is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.IsDir() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrNotDir)
	}

	var result []os.FileInfo
	for count <= 0 || len(result) < count {
		entry, err := f.ReadDirEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
		result = append(result, entry.FileInfo())
	}

	if count > 0 && len(result) == 0 {
		return result, io.EOF
	}
	return result, nil
}

// Readdirnames is Readdir but returns only the names.
func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, err
}

// Stat returns information about the opened file.
func (f *File) Stat() (os.FileInfo, error) {
	if !f.IsOpen() {
		return nil, checkpoint.New(ErrNotOpen)
	}

	if f.IsRoot() {
		root := f.entry
		copy(root.Name[:], ".          ")
		return root.FileInfo(), nil
	}

	entry := f.entry
	if f.IsFile() {
		entry.FileSize = f.size
	}
	return entry.FileInfo(), nil
}

// read reads up to len(p) bytes but never beyond the end of the file.
func (f *File) read(p []byte) (int, error) {
	if !f.IsOpen() {
		return 0, checkpoint.New(ErrNotOpen)
	}
	if f.flags&O_READ == 0 {
		return 0, checkpoint.Wrap(ErrPermission, ErrReadFile)
	}

	nbyte := uint32(len(p))
	if uint64(len(p)) >= uint64(f.size-f.position) {
		nbyte = f.size - f.position
	}

	geo := f.vol.Geometry()
	threshold := f.vol.limits().multiBlockThreshold
	dst := p[:nbyte]

	for len(dst) > 0 {
		toRead := uint32(len(dst))
		offset := f.position & 0x1FF
		blockOfCluster := f.vol.blockOfCluster(f.position)

		var block uint32
		if f.typ == typeRootFixed {
			block = geo.RootDirStart + f.position>>9
		} else {
			if offset == 0 && blockOfCluster == 0 {
				// Start of a new cluster.
				if f.position == 0 {
					f.curCluster = f.firstCluster
				} else {
					next, err := f.vol.fatGet(f.curCluster)
					if err != nil {
						return int(nbyte) - len(dst), checkpoint.Wrap(err, ErrReadFile)
					}
					f.curCluster = next
				}
			}
			if f.curCluster < 2 {
				return int(nbyte) - len(dst), checkpoint.Wrapf(ErrInvalidCluster, ErrReadFile, "position %d of file without clusters", f.position)
			}
			block = f.vol.clusterStartBlock(f.curCluster) + uint32(blockOfCluster)
		}

		var n uint32
		switch {
		case offset != 0 || toRead < BlockSize || block == f.vol.cacheBlockNumber():
			n = BlockSize - offset
			if n > toRead {
				n = toRead
			}
			b, err := f.vol.cacheFetch(block, cacheForRead)
			if err != nil {
				return int(nbyte) - len(dst), checkpoint.Wrap(err, ErrReadFile)
			}
			copy(dst, b[offset:offset+n])
		case threshold == 0 || toRead < threshold:
			n = BlockSize
			if err := f.vol.Device().ReadBlock(block, dst[:BlockSize]); err != nil {
				return int(nbyte) - len(dst), checkpoint.Wrapf(err, ErrReadFile, "block %d", block)
			}
		default:
			nb := toRead >> 9
			if f.typ != typeRootFixed {
				// Clusters are not necessarily consecutive.
				if mb := uint32(geo.BlocksPerCluster) - uint32(blockOfCluster); mb < nb {
					nb = mb
				}
			}
			n = BlockSize * nb

			if cached := f.vol.cacheBlockNumber(); block <= cached && cached < block+nb {
				if err := f.vol.cacheSync(); err != nil {
					return int(nbyte) - len(dst), checkpoint.Wrap(err, ErrReadFile)
				}
			}

			if err := f.readMulti(block, dst[:n]); err != nil {
				return int(nbyte) - len(dst), err
			}
		}

		dst = dst[n:]
		f.position += n
	}

	return int(nbyte), nil
}

func (f *File) readMulti(block uint32, dst []byte) error {
	dev := f.vol.Device()
	if err := dev.ReadStart(block); err != nil {
		return checkpoint.Wrapf(err, ErrReadFile, "start multi block read at %d", block)
	}

	for off := 0; off < len(dst); off += BlockSize {
		if err := dev.ReadData(dst[off : off+BlockSize]); err != nil {
			return checkpoint.Wrapf(err, ErrReadFile, "multi block read at %d", block)
		}
	}

	if err := dev.ReadStop(); err != nil {
		return checkpoint.Wrapf(err, ErrReadFile, "stop multi block read at %d", block)
	}
	return nil
}

// Read reads up to len(p) bytes from the current position.
// At the end of the file it returns 0, io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if f.IsOpen() && f.position >= f.size {
		return 0, io.EOF
	}
	return f.read(p)
}

// ReadByte reads the next byte.
func (f *File) ReadByte() (byte, error) {
	var b [1]byte
	n, err := f.Read(b[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, io.EOF
	}
	return b[0], nil
}

// ReadAt reads len(p) bytes starting at off. The position of f is not changed.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if !f.IsOpen() {
		return 0, checkpoint.New(ErrNotOpen)
	}
	if off < 0 || off >= int64(f.size) {
		return 0, io.EOF
	}

	saved := f.position
	if err := f.SeekSet(uint32(off)); err != nil {
		return 0, err
	}
	n, err := f.read(p)
	// Seeking back is always possible as saved <= size.
	restoreErr := f.SeekSet(saved)

	if err != nil {
		return n, err
	}
	if restoreErr != nil {
		return n, restoreErr
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// growSize extends the size to the position after data was written.
func (f *File) growSize() {
	if f.position > f.size {
		f.size = f.position
		f.dirDirty = true
	}
}

// write writes p at the current position and grows the file if needed.
func (f *File) write(p []byte) (int, error) {
	if !f.IsOpen() {
		return 0, checkpoint.New(ErrNotOpen)
	}
	if !f.IsFile() {
		return 0, checkpoint.Wrap(ErrIsDir, ErrWriteFile)
	}
	if f.flags&O_WRITE == 0 {
		return 0, checkpoint.Wrap(ErrPermission, ErrWriteFile)
	}

	if f.flags&O_APPEND != 0 && f.position != f.size {
		if err := f.SeekSet(f.size); err != nil {
			return 0, checkpoint.Wrap(err, ErrWriteFile)
		}
	}

	if uint64(f.position)+uint64(len(p)) > 0xFFFFFFFF {
		return 0, checkpoint.Wrapf(ErrNoSpace, ErrWriteFile, "file size would exceed 4 GiB")
	}

	src := p
	for len(src) > 0 {
		offset := f.position & 0x1FF
		blockOfCluster := f.vol.blockOfCluster(f.position)

		if offset == 0 && blockOfCluster == 0 {
			// Start of a new cluster.
			if err := f.nextWriteCluster(); err != nil {
				f.growSize()
				return len(p) - len(src), checkpoint.Wrap(err, ErrWriteFile)
			}
		}

		n := BlockSize - offset
		if n > uint32(len(src)) {
			n = uint32(len(src))
		}

		block := f.vol.clusterStartBlock(f.curCluster) + uint32(blockOfCluster)
		if n == BlockSize {
			// The whole block is replaced so a cached copy is obsolete.
			if f.vol.cacheBlockNumber() == block {
				f.vol.cacheInvalidate()
			}
			if err := f.vol.Device().WriteBlock(block, src[:BlockSize]); err != nil {
				f.growSize()
				return len(p) - len(src), checkpoint.Wrapf(err, ErrWriteFile, "block %d", block)
			}
		} else {
			mode := cacheForWrite
			if offset == 0 && f.position >= f.size {
				// Nothing valid in this block yet.
				mode = cacheReserveForWrite
			}
			b, err := f.vol.cacheFetch(block, mode)
			if err != nil {
				f.growSize()
				return len(p) - len(src), checkpoint.Wrap(err, ErrWriteFile)
			}
			if mode == cacheReserveForWrite {
				*b = Block{}
			}
			copy(b[offset:], src[:n])
		}

		src = src[n:]
		f.position += n
	}
	f.growSize()

	if f.flags&O_SYNC != 0 {
		if err := f.Sync(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// nextWriteCluster moves curCluster to the cluster of the current position,
// allocating one if the chain ends.
func (f *File) nextWriteCluster() error {
	if f.curCluster == 0 {
		if f.firstCluster == 0 {
			return f.addCluster()
		}
		f.curCluster = f.firstCluster
		return nil
	}

	next, err := f.vol.fatGet(f.curCluster)
	if err != nil {
		return err
	}
	if f.vol.isEOC(next) {
		return f.addCluster()
	}
	f.curCluster = next
	return nil
}

// Write writes p at the current position. Every failure sets the sticky write error.
func (f *File) Write(p []byte) (int, error) {
	n, err := f.write(p)
	if err != nil {
		f.writeError = true
	}
	return n, err
}

// WriteString writes s like Write.
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// WriteAt writes p at off. The position of f is not changed.
// Writing beyond the end of the file is not possible.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if !f.IsOpen() {
		return 0, checkpoint.New(ErrNotOpen)
	}
	if f.flags&O_APPEND != 0 {
		f.writeError = true
		return 0, checkpoint.Wrapf(ErrPermission, ErrWriteFile, "WriteAt with O_APPEND")
	}
	if off < 0 || off > int64(f.size) {
		f.writeError = true
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v", ErrSeek, off))
	}

	saved := f.position
	if err := f.SeekSet(uint32(off)); err != nil {
		f.writeError = true
		return 0, err
	}
	n, err := f.Write(p)
	if restoreErr := f.SeekSet(saved); err == nil {
		err = restoreErr
	}
	return n, err
}

// Truncate is only supported if size equals the current size.
func (f *File) Truncate(size int64) error {
	if !f.IsOpen() {
		return checkpoint.New(ErrNotOpen)
	}
	if size == int64(f.size) {
		return nil
	}
	return checkpoint.Wrapf(ErrNotSupported, ErrNotSupported, "truncate from %d to %d bytes", f.size, size)
}

// SeekSet moves to pos. Positions after the end of the file are not possible.
func (f *File) SeekSet(pos uint32) error {
	if !f.IsOpen() {
		return checkpoint.New(ErrNotOpen)
	}
	if pos > f.size {
		return checkpoint.Wrapf(ErrSeek, ErrSeek, "position %d, size %d", pos, f.size)
	}

	if f.typ == typeRootFixed {
		f.position = pos
		return nil
	}

	if pos == 0 {
		f.curCluster = 0
		f.position = 0
		return nil
	}

	shift := f.vol.Geometry().ClusterSizeShift + 9
	nCur := (f.position - 1) >> shift
	nNew := (pos - 1) >> shift

	if nNew < nCur || f.position == 0 {
		// Start at the beginning of the chain.
		f.curCluster = f.firstCluster
	} else {
		nNew -= nCur
	}

	for ; nNew > 0; nNew-- {
		next, err := f.vol.fatGet(f.curCluster)
		if err != nil {
			return checkpoint.Wrapf(err, ErrSeek, "position %d", pos)
		}
		f.curCluster = next
	}

	f.position = pos
	return nil
}

// SeekEnd moves to offset bytes relative to the end of the file.
func (f *File) SeekEnd(offset int32) error {
	pos := int64(f.size) + int64(offset)
	if pos < 0 {
		return checkpoint.Wrapf(ErrSeek, ErrSeek, "offset %d, size %d", offset, f.size)
	}
	return f.SeekSet(uint32(pos))
}

// Rewind moves to the start of the file.
func (f *File) Rewind() {
	f.position = 0
	f.curCluster = 0
}

// Seek implements io.Seeker.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is out of range.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = int64(f.position) + offset
	case io.SeekEnd:
		offset = int64(f.size) + offset
	default:
		return 0, checkpoint.Wrap(ErrSeek, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 || offset > int64(f.size) {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeek, offset, whence))
	}

	if err := f.SeekSet(uint32(offset)); err != nil {
		return 0, err
	}
	return offset, nil
}

// Sync writes a changed size or first cluster into the directory entry and
// flushes the cache. A failure sets the sticky write error.
func (f *File) Sync() error {
	err := f.sync()
	if err != nil {
		f.writeError = true
	}
	return err
}

func (f *File) sync() error {
	if !f.IsOpen() {
		return checkpoint.New(ErrNotOpen)
	}

	if f.dirDirty {
		b, err := f.vol.cacheFetch(f.dirBlock, cacheForWrite)
		if err != nil {
			return checkpoint.Wrap(err, ErrSyncFile)
		}

		raw := b.entry(f.dirIndex)
		// Another File may have deleted the entry.
		if raw[0] == dirNameDeleted {
			return checkpoint.Wrapf(ErrEntryDeleted, ErrSyncFile, "entry %d of block %d", f.dirIndex, f.dirBlock)
		}

		entry := decodeEntry(raw)
		// The size of directories is never stored.
		if !f.IsDir() {
			entry.FileSize = f.size
		}
		entry.setFirstCluster(f.firstCluster)
		entry.encode(raw)
		f.entry = entry

		f.dirDirty = false
	}

	if err := f.vol.cacheSync(); err != nil {
		return checkpoint.Wrap(err, ErrSyncFile)
	}
	return nil
}

// Close syncs the file and closes it. f is closed afterwards even if the sync failed.
func (f *File) Close() error {
	err := f.Sync()
	f.typ = typeClosed
	return err
}
