// Package main is the entry point for the guardfetch CLI.
package main

import (
	"os"

	"github.com/Lennolium/1Guard-server/cmd/guardfetch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
