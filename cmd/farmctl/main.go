package main

import (
	"os"

	"github.com/adnanbaig/browserfarm/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
