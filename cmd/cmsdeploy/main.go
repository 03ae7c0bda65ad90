package main

import (
	"os"

	"github.com/unleashedtech/cmsdeploy/internal/cli"
	"github.com/unleashedtech/cmsdeploy/internal/logging"
)

// main is the entry point for the cmsdeploy CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
