package main

import (
	"os"

	"github.com/hookwire/hookwire/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
