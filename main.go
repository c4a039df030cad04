package main

import (
	"os"

	"github.com/cuemap-dev/cuemap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
