package main

import (
	"os"

	"github.com/STRATINT/tweetrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
