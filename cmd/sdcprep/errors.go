package main

import (
	"errors"
	"fmt"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/config"
	"github.com/carbocation/sdcprep/container"
	"github.com/spf13/cobra"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks an error in how sdcprep was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func asUsage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// exitCode maps an error returned by the command tree to a process exit code.
func exitCode(err error) int {
	var (
		exitErr *container.ExitError
		usage   *usageError
		invalid *bids.ValidationError
	)

	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &usage), errors.As(err, &invalid), errors.Is(err, config.ErrInvalidConfig):
		return exitUsage
	}

	return exitFailure
}

// markUsageErrors makes argument, flag and required-flag errors of cmd and its
// children usage errors.
func markUsageErrors(cmd *cobra.Command) {
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return asUsage(err)
	})

	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		if validate := c.Args; validate != nil {
			c.Args = func(cmd *cobra.Command, args []string) error {
				return asUsage(validate(cmd, args))
			}
		}
		for _, child := range c.Commands() {
			walk(child)
		}
	}
	walk(cmd)
}
