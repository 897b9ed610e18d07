package cmd

import (
	"errors"

	"github.com/lightnvr/lightnvr/internal/pidlock"
)

// ErrConfigInvalid wraps a config.Load failure; main.go maps it to exit
// code 1.
var ErrConfigInvalid = errors.New("cmd: invalid configuration")

// ErrAlreadyRunning is pidlock.ErrAlreadyRunning surfaced under the cmd
// package so main.go doesn't need to import internal/pidlock itself;
// main.go maps it to exit code 2.
var ErrAlreadyRunning = pidlock.ErrAlreadyRunning
