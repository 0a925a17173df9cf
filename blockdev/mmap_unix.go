//go:build linux || darwin || freebsd || netbsd || openbsd

package blockdev

import (
	"fmt"
	"os"

	"github.com/aligator/sdlite/checkpoint"
	"golang.org/x/sys/unix"
)

// Mmap is a device backed by a memory mapped image or raw device.
type Mmap struct {
	file     *os.File
	data     []byte
	blocks   uint32
	readOnly bool

	stream stream
}

// OpenMmap maps the file at path. The size is rounded down to whole blocks.
func OpenMmap(path string, readOnly bool) (*Mmap, error) {
	flag := os.O_RDWR
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		flag = os.O_RDONLY
		prot = unix.PROT_READ
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, checkpoint.From(err)
	}

	blocks := info.Size() / BlockSize
	if blocks == 0 {
		_ = f.Close()
		return nil, checkpoint.Wrap(fmt.Errorf("%q has no complete block", path), ErrOutOfRange)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(blocks*BlockSize), prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, checkpoint.From(fmt.Errorf("mmap %q: %w", path, err))
	}

	return &Mmap{
		file:     f,
		data:     data,
		blocks:   uint32(blocks),
		readOnly: readOnly,
	}, nil
}

// Blocks returns the size of the mapping in blocks.
func (m *Mmap) Blocks() uint32 {
	return m.blocks
}

func (m *Mmap) read(block uint32, dst []byte) error {
	if err := checkRange(block, m.blocks, dst); err != nil {
		return err
	}
	off := int(block) * BlockSize
	copy(dst, m.data[off:off+BlockSize])
	return nil
}

// ReadBlock reads block into dst.
func (m *Mmap) ReadBlock(block uint32, dst []byte) error {
	if m.stream.active {
		return checkpoint.New(ErrStreaming)
	}
	return m.read(block, dst)
}

// WriteBlock writes src to block.
func (m *Mmap) WriteBlock(block uint32, src []byte) error {
	if m.readOnly {
		return checkpoint.New(ErrReadOnly)
	}
	if err := check(&m.stream, block, m.blocks, src); err != nil {
		return err
	}
	off := int(block) * BlockSize
	copy(m.data[off:off+BlockSize], src)
	return nil
}

// ReadStart starts a multi block read at block.
func (m *Mmap) ReadStart(block uint32) error {
	return m.stream.start(block, m.blocks)
}

// ReadData reads the next block of the multi block read.
func (m *Mmap) ReadData(dst []byte) error {
	return m.stream.data(dst, m.read)
}

// ReadStop ends the multi block read.
func (m *Mmap) ReadStop() error {
	return m.stream.stop()
}

// Sync flushes written blocks to the file.
func (m *Mmap) Sync() error {
	if m.readOnly {
		return nil
	}
	return checkpoint.From(unix.Msync(m.data, unix.MS_SYNC))
}

// Close syncs, unmaps and closes the file.
func (m *Mmap) Close() error {
	syncErr := m.Sync()
	if err := unix.Munmap(m.data); err != nil && syncErr == nil {
		syncErr = checkpoint.From(err)
	}
	m.data = nil
	if err := m.file.Close(); err != nil && syncErr == nil {
		syncErr = checkpoint.From(err)
	}
	return syncErr
}
