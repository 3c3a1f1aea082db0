package main

import (
	"os"

	"github.com/spherical/text-extractor/cmd/text-extractor/commands"
	"github.com/spherical/text-extractor/cmd/text-extractor/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
