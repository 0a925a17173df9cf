// Package checkpoint decorates errors with the file and line they passed through, which
// results in something similar to a stacktrace for errors bubbling up from the card
// through the volume to the file handle.
// Every error attached to a checkpoint can still be checked by errors.Is and retrieved
// by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err by a new checkpoint which only adds caller information.
// It returns nil if err == nil.
func From(err error) error {
	if err == nil {
		return nil
	}
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap adds a checkpoint to prev and describes it with err, which is usually one of the
// predefined sentinel errors of the calling package:
//  var ErrDirFull = errors.New("directory is full")
//
//  func addEntry() error {
//  	err := allocate()
//  	return checkpoint.Wrap(err, ErrDirFull)
//  }
// Both errors.Is(err, ErrDirFull) and errors.Is(err, <error of allocate>) hold afterwards.
// Returns nil if prev == nil, so it can be used directly on a maybe-nil error.
func Wrap(prev, err error) error {
	if prev == nil {
		return nil
	}
	if prev == io.EOF {
		return io.EOF
	}

	return newCheckpoint(prev, err)
}

// Wrapf is Wrap with a formatted description which itself wraps err.
// Use it to add runtime values (block numbers, clusters) to a sentinel:
//  checkpoint.Wrapf(ioErr, ErrInvalidCluster, "cluster %d", c)
func Wrapf(prev, err error, format string, args ...interface{}) error {
	if prev == nil {
		return nil
	}
	if prev == io.EOF {
		return io.EOF
	}

	return newCheckpoint(prev, fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...))
}

// New creates a checkpoint for an error which has no cause, e.g. a failed validation.
//  return checkpoint.New(ErrInvalidName)
func New(err error) error {
	if err == nil {
		return nil
	}
	return newCheckpoint(err, nil)
}

func newCheckpoint(prev, err error) *checkpoint {
	// Skip newCheckpoint and the exported caller.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:  err,
		prev: prev,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if e.callerOk {
		return fmt.Sprintf("%s:%d", e.file, e.line)
	}
	return "unknown"
}

func (e *checkpoint) Error() string {
	var b strings.Builder
	b.WriteString(e.location())
	b.WriteString(": ")
	if e.err != nil {
		b.WriteString(e.err.Error())
		b.WriteString("\n\t")
	}

	// Nested checkpoints already carry their own location.
	if _, ok := e.prev.(*checkpoint); ok {
		b.WriteString(strings.ReplaceAll(e.prev.Error(), "\n", "\n\t"))
	} else {
		b.WriteString(e.prev.Error())
	}
	return b.String()
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	if e.err == nil {
		return false
	}
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	if e.err == nil {
		return false
	}
	return errors.As(e.err, target)
}
