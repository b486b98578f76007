package main

import (
	"os"

	"github.com/buildgate/buildgate/cmd/gatectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
