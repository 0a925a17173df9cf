package main

import (
	"os"

	"github.com/aligator/sdlite/cmd/sdlite/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
