package main

import (
	"os"

	"github.com/ericogr/water-monitor/cmd"
)

func main() {
	if err := cmd.NewRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
