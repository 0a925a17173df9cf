//go:build !linux
// +build !linux

package fuse

import (
	"fmt"

	"github.com/aligator/sdlite"
	"github.com/sirupsen/logrus"
)

func Mount(mountpoint string, fsys *sdlite.Fs, log logrus.FieldLogger) error {
	return fmt.Errorf("FUSE mount is only supported on Linux")
}
