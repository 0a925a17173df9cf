package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aligator/sdlite"
	"github.com/aligator/sdlite/blockdev"
	"github.com/spf13/afero"
)

// main is just a example main to play with sdlite.
// It reads an image the way a peripheral driver reads files from the card.
func main() {
	argsWithoutProg := os.Args[1:]
	if len(argsWithoutProg) <= 0 {
		fmt.Println("Please provide an image and optionally a file to print.")
		os.Exit(1)
	}

	img, err := blockdev.OpenImage(afero.NewOsFs(), argsWithoutProg[0], true)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer img.Close()

	fat, err := sdlite.New(img)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer fat.Close()

	geo := fat.Volume().Geometry()
	fmt.Printf("Opened FAT%v volume with %v clusters of %v bytes\n\n", geo.FATType, geo.ClusterCount, geo.ClusterSize())

	afero.Walk(sdlite.NewAferoFs(fat), "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Println(err)
			return err
		}
		fmt.Println(path, info.IsDir(), info.Size(), info.ModTime())
		return nil
	})

	name := "README.TXT"
	if len(argsWithoutProg) > 1 {
		name = argsWithoutProg[1]
	}

	file, err := fat.Open(name, sdlite.O_READ)
	if err != nil {
		fmt.Println("could not open the file", err)
		os.Exit(1)
	}
	defer file.Close()

	buffer := make([]byte, file.Size())
	n, err := io.ReadFull(file, buffer)
	if err != nil {
		fmt.Println("could not read the file", err)
		os.Exit(1)
	}
	fmt.Println(file.Size(), n)
	fmt.Println("\n\nContent of " + file.Name() + ":\n\n" + string(buffer))

	buffer = make([]byte, 52)
	offset, err := file.Seek(9, io.SeekStart)
	if err != nil {
		fmt.Println("could not seek", err)
		os.Exit(1)
	}
	fmt.Println(offset, err)

	offset, err = file.Seek(-int64(len(buffer)), io.SeekEnd)
	if err != nil {
		fmt.Println("could not seek", err)
		os.Exit(1)
	}
	fmt.Println(offset, err)

	n, err = file.Read(buffer)
	if err != nil && err != io.EOF {
		fmt.Println("could not read the file", err)
		os.Exit(1)
	}
	fmt.Println("\n\nLast bytes of " + file.Name() + " using an offset and small buffer:\n\n" + string(buffer[:n]))
}
