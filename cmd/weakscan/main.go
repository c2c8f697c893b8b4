// Command weakscan finds a player's recurring weaknesses in their games.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/freeeve/weakscan/internal/config"
	"github.com/freeeve/weakscan/internal/eval"
)

// Exit codes.
const (
	exitOK          = 0
	exitInterrupted = 1
	exitBadConfig   = 2
	exitNoEngine    = 4
	exitUnexpected  = 5
)

// usageError marks a bad command line.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, config.ErrBadConfig):
		return exitBadConfig
	case errors.Is(err, eval.ErrEvaluatorUnavailable):
		return exitNoEngine
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitUnexpected
	}
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "weakscan:", err)
	}
	os.Exit(exitCode(err))
}
