package main

import (
	"os"

	"github.com/msto63/mediaprep/cmd/mediaprep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
