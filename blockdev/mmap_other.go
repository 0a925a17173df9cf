//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package blockdev

import (
	"errors"
)

// Mmap is not available on this platform.
type Mmap struct {
	Image
}

// OpenMmap always fails on this platform, use OpenImage instead.
func OpenMmap(path string, readOnly bool) (*Mmap, error) {
	return nil, errors.New("mmap is not supported on this platform")
}
