package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aligator/sdlite"
	"github.com/spf13/cobra"
)

func DefineLsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ls <image> [path]",
		Short:        "List a directory of the image",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE:         RunLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list sub directories too")
	return cmd
}

func RunLs(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}
	recursive, _ := cmd.Flags().GetBool("recursive")

	return list(cmd.OutOrStdout(), s.fs, dir, recursive)
}

func list(w io.Writer, fsys *sdlite.Fs, dir string, recursive bool) error {
	f, err := fsys.Open(dir, sdlite.O_READ)
	if err != nil {
		return err
	}
	infos, err := f.Readdir(-1)
	_ = f.Close()
	if err != nil {
		return err
	}

	for _, info := range infos {
		name := path.Join(dir, info.Name())
		fmt.Fprintf(w, "%s %10d %s %s\n", info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), name)
	}

	if !recursive {
		return nil
	}
	for _, info := range infos {
		if info.IsDir() {
			if err := list(w, fsys, path.Join(dir, info.Name()), true); err != nil {
				return err
			}
		}
	}
	return nil
}

func DefineCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "cat <image> <path>",
		Short:        "Print a file of the image",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunCat,
	}
}

func RunCat(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := s.fs.Open(args[1], sdlite.O_READ)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(cmd.OutOrStdout(), f)
	return err
}

func DefinePutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <image> <source> [destination]",
		Short: "Copy a file into the image",
		Long: `The 'put' command copies a file of the host into the image.
If no destination is given the file is stored in the root directory under its
base name, which has to be a valid 8.3 name. Existing files are only extended
with --append as files cannot be truncated.`,
		Args:         cobra.RangeArgs(2, 3),
		SilenceUsage: true,
		RunE:         RunPut,
	}

	cmd.Flags().BoolP("append", "a", false, "append to an existing file")
	cmd.Flags().Bool("sync", false, "sync after every write")
	return cmd
}

func RunPut(cmd *cobra.Command, args []string) error {
	src, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer src.Close()

	dst := "/" + path.Base(args[1])
	if len(args) > 2 {
		dst = args[2]
	}

	flags := sdlite.O_WRITE | sdlite.O_CREAT
	if appendFlag, _ := cmd.Flags().GetBool("append"); appendFlag {
		flags |= sdlite.O_APPEND
	} else {
		flags |= sdlite.O_EXCL
	}
	if syncFlag, _ := cmd.Flags().GetBool("sync"); syncFlag {
		flags |= sdlite.O_SYNC
	}

	s, err := openSession(cmd, args[0], false)
	if err != nil {
		return err
	}

	f, err := s.fs.Open(dst, flags)
	if err != nil {
		_ = s.Close()
		return err
	}

	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	s.log.WithField("bytes", n).Infof("copied %s to %s", args[1], dst)
	return nil
}

func DefineMkdirCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mkdir <image> <path>",
		Short:        "Create a directory in the image",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunMkdir,
	}

	cmd.Flags().BoolP("parents", "P", false, "create missing parents, existing directories are no error")
	return cmd
}

func RunMkdir(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0], false)
	if err != nil {
		return err
	}

	parents, _ := cmd.Flags().GetBool("parents")
	if parents {
		err = sdlite.NewAferoFs(s.fs).MkdirAll("/"+strings.TrimPrefix(args[1], "/"), 0755)
	} else {
		err = s.fs.Mkdir(args[1])
	}

	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}
