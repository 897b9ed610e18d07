// Package main is the entry point for the lightnvr application.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lightnvr/lightnvr/cmd/lightnvr/cmd"
)

// Exit codes, consistent across every subcommand: 0 success, 1 invalid
// configuration, 2 another instance already holds the PID lock, 3 any
// other fatal startup or runtime failure.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitRunning = 2
	exitFatal   = 3
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, cmd.ErrConfigInvalid):
		return exitConfig
	case errors.Is(err, cmd.ErrAlreadyRunning):
		return exitRunning
	default:
		return exitFatal
	}
}
