package main

import (
	"os"

	"github.com/ixmatus/nix-binary-cache/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
