// Package blockdev contains block devices for hosts: a sparse RAM disk, images
// accessed through afero and memory mapped images.
// All of them implement the sdlite.BlockDevice contract of 512 byte blocks
// including the streamed multi block reads.
package blockdev

import (
	"errors"

	"github.com/aligator/sdlite/checkpoint"
)

// BlockSize is the size of every block.
const BlockSize = 512

var (
	ErrOutOfRange  = errors.New("block out of range")
	ErrShortBuffer = errors.New("buffer is smaller than a block")
	ErrReadOnly    = errors.New("device is read-only")
	// ErrStreaming is returned by single block transfers while a multi block read is active.
	ErrStreaming = errors.New("multi block read in progress")
	ErrNoStream  = errors.New("no multi block read in progress")
)

// stream keeps the state of a multi block read.
type stream struct {
	active bool
	next   uint32
}

func (s *stream) start(block, blocks uint32) error {
	if s.active {
		return checkpoint.New(ErrStreaming)
	}
	if block >= blocks {
		return checkpoint.Wrapf(ErrOutOfRange, ErrOutOfRange, "block %d of %d", block, blocks)
	}
	s.active = true
	s.next = block
	return nil
}

// data reads the next block of the stream with read.
func (s *stream) data(dst []byte, read func(block uint32, dst []byte) error) error {
	if !s.active {
		return checkpoint.New(ErrNoStream)
	}
	if err := read(s.next, dst); err != nil {
		// A failed stream has to be stopped like on a card.
		return err
	}
	s.next++
	return nil
}

func (s *stream) stop() error {
	if !s.active {
		return checkpoint.New(ErrNoStream)
	}
	s.active = false
	return nil
}

// check validates a single block transfer.
func check(s *stream, block, blocks uint32, buf []byte) error {
	if s.active {
		return checkpoint.New(ErrStreaming)
	}
	return checkRange(block, blocks, buf)
}

func checkRange(block, blocks uint32, buf []byte) error {
	if len(buf) < BlockSize {
		return checkpoint.Wrapf(ErrShortBuffer, ErrShortBuffer, "%d bytes", len(buf))
	}
	if block >= blocks {
		return checkpoint.Wrapf(ErrOutOfRange, ErrOutOfRange, "block %d of %d", block, blocks)
	}
	return nil
}

// Stats counts the transfers of a device.
type Stats struct {
	Reads       int
	Writes      int
	MultiReads  int
	StreamReads int
}
