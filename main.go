package main

import (
	"os"

	"github.com/digitalinkpact/cryptopiggy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
