package main

import (
	"os"

	"github.com/finly-network/finly/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
