// Package main is the entry point for the hookbot application.
package main

import (
	"fmt"
	"os"

	"github.com/danielolaszy/hookbot/cmd"
	"github.com/danielolaszy/hookbot/internal/logging"
)

// version is set at build time.
var version = "dev"

// main is the entry point of the application.
// It executes the root command and handles any errors that occur.
func main() {
	logging.Debug("starting hookbot", "version", version)

	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
