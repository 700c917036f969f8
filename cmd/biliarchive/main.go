// Package main is the entry point for the biliarchive application.
package main

import (
	"os"

	"github.com/biliarchive/biliarchive/cmd/biliarchive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
