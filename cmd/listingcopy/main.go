package main

import (
	"os"
)

func main() {
	if err := newRootCmd(&rootOptions{open: openApp}).Execute(); err != nil {
		os.Exit(1)
	}
}
