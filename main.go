package main

import (
	"os"

	"github.com/xorwow/serial-pdf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
