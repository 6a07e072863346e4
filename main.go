package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/graphdrive/internal/graph"
)

// Exit codes.
const (
	exitError    = 1
	exitNotFound = 2
	exitAuth     = 3

	exitInterrupted = 130
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return exitNotFound
	case errors.Is(err, graph.ErrNotLoggedIn), errors.Is(err, graph.ErrUnauthorized):
		return exitAuth
	default:
		return exitError
	}
}
