//go:build linux
// +build linux

package fuse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/aligator/sdlite"
	"github.com/sirupsen/logrus"
)

// Mount serves fsys read-only at mountpoint until SIGINT or SIGTERM unmounts it.
func Mount(mountpoint string, fsys *sdlite.Fs, log logrus.FieldLogger) error {
	created, err := PrepareMountpoint(mountpoint)
	if err != nil {
		return err
	}
	if created {
		defer os.Remove(mountpoint)
	}

	c, err := fuse.Mount(mountpoint,
		fuse.ReadOnly(),
		fuse.FSName("sdlite"),
		fuse.Subtype("sdlite"),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	serveErr := make(chan error, 1)
	go func() {
		srv := fusefs.New(c, nil)
		serveErr <- srv.Serve(New(fsys, log))
	}()

	log.WithField("mountpoint", mountpoint).Info("mounted, waiting for termination signal")
	return waitForUnmount(mountpoint, serveErr, log)
}

func waitForUnmount(mountpoint string, serveErr <-chan error, log logrus.FieldLogger) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	const maxUnmountRetries = 3

	unmountAttempts := 0
	for {
		select {
		case err := <-serveErr:
			// Unmounted from outside, e.g. by fusermount -u.
			return err
		case sig := <-sigc:
			log.Infof("signal received: %v", sig)

			if unmountAttempts >= maxUnmountRetries-1 {
				return fmt.Errorf("still unable to unmount %s after %d attempts", mountpoint, maxUnmountRetries)
			}

			err := fuse.Unmount(mountpoint)
			if err == nil {
				log.Info("unmounted successfully")
				return <-serveErr
			}

			unmountAttempts++
			log.WithError(err).Warnf("unmount failed, %d retries left", maxUnmountRetries-unmountAttempts)
		}
	}
}

// PrepareMountpoint ensures the given path is an empty directory.
// It creates the directory if it doesn't exist and returns true in that case.
func PrepareMountpoint(mountpoint string) (bool, error) {
	finfo, err := os.Stat(mountpoint)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(mountpoint, 0755); err != nil {
			return false, fmt.Errorf("failed to create mountpoint %s: %w", mountpoint, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat mountpoint %s: %w", mountpoint, err)
	}

	if !finfo.IsDir() {
		return false, fmt.Errorf("mountpoint %s is not a directory", mountpoint)
	}

	empty, err := isDirEmpty(mountpoint)
	if err != nil {
		return false, fmt.Errorf("failed to check if mountpoint %s is empty: %w", mountpoint, err)
	}
	if !empty {
		return false, fmt.Errorf("mountpoint %s is not empty", mountpoint)
	}
	return false, nil
}

func isDirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
