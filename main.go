package main

import (
	"os"

	"github.com/smallnest/tracker/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
