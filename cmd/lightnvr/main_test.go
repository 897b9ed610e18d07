package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lightnvr/lightnvr/cmd/lightnvr/cmd"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("loading config: %w", cmd.ErrConfigInvalid)))
	assert.Equal(t, exitRunning, exitCode(fmt.Errorf("acquiring pid lock: %w", cmd.ErrAlreadyRunning)))
	assert.Equal(t, exitFatal, exitCode(errors.New("opening database: disk full")))
}
