package main

import (
	"errors"
	"os"

	"github.com/rizal/riko/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, cli.ErrCancelled) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
