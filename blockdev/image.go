package blockdev

import (
	"io"
	"os"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/spf13/afero"
)

// Image is a device backed by an image file. It works with every afero.Fs,
// so images can live on the OS filesystem or in memory.
type Image struct {
	file     afero.File
	blocks   uint32
	readOnly bool

	stream stream
}

// NewImage uses file as device. The size of the file is rounded down to whole blocks.
func NewImage(file afero.File, readOnly bool) (*Image, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, checkpoint.From(err)
	}

	return &Image{
		file:     file,
		blocks:   uint32(info.Size() / BlockSize),
		readOnly: readOnly,
	}, nil
}

// OpenImage opens an existing image.
func OpenImage(fs afero.Fs, name string, readOnly bool) (*Image, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	file, err := fs.OpenFile(name, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	img, err := NewImage(file, readOnly)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return img, nil
}

// CreateImage creates an image of the given number of zeroed blocks.
// An existing file is overwritten.
func CreateImage(fs afero.Fs, name string, blocks uint32) (*Image, error) {
	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	if err := file.Truncate(int64(blocks) * BlockSize); err != nil {
		_ = file.Close()
		return nil, checkpoint.From(err)
	}

	return &Image{
		file:   file,
		blocks: blocks,
	}, nil
}

// Blocks returns the size of the image in blocks.
func (i *Image) Blocks() uint32 {
	return i.blocks
}

func (i *Image) read(block uint32, dst []byte) error {
	if err := checkRange(block, i.blocks, dst); err != nil {
		return err
	}

	n, err := i.file.ReadAt(dst[:BlockSize], int64(block)*BlockSize)
	// Some afero files report io.EOF together with the last bytes.
	if err == io.EOF && n == BlockSize {
		err = nil
	}
	return checkpoint.From(err)
}

// ReadBlock reads block into dst.
func (i *Image) ReadBlock(block uint32, dst []byte) error {
	if i.stream.active {
		return checkpoint.New(ErrStreaming)
	}
	return i.read(block, dst)
}

// WriteBlock writes src to block.
func (i *Image) WriteBlock(block uint32, src []byte) error {
	if i.readOnly {
		return checkpoint.New(ErrReadOnly)
	}
	if err := check(&i.stream, block, i.blocks, src); err != nil {
		return err
	}

	_, err := i.file.WriteAt(src[:BlockSize], int64(block)*BlockSize)
	return checkpoint.From(err)
}

// ReadStart starts a multi block read at block.
func (i *Image) ReadStart(block uint32) error {
	return i.stream.start(block, i.blocks)
}

// ReadData reads the next block of the multi block read.
func (i *Image) ReadData(dst []byte) error {
	return i.stream.data(dst, i.read)
}

// ReadStop ends the multi block read.
func (i *Image) ReadStop() error {
	return i.stream.stop()
}

// Sync commits the image to its storage.
func (i *Image) Sync() error {
	return checkpoint.From(i.file.Sync())
}

// Close syncs and closes the image file.
func (i *Image) Close() error {
	if err := i.Sync(); err != nil {
		_ = i.file.Close()
		return err
	}
	return checkpoint.From(i.file.Close())
}
