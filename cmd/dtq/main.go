package main

import (
	"os"

	"github.com/doctriage/doctriage/cmd/dtq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
