package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbdeploy/nbdeploy/cmd/nbd/commands"
	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error classes to distinct exit codes so scripts can react
// to validation failures, backend errors and lock contention differently.
func exitCode(err error) int {
	switch deployerr.ClassOf(err) {
	case deployerr.ClassValidation:
		return 2
	case deployerr.ClassBackend:
		return 3
	case deployerr.ClassConcurrency:
		return 4
	case deployerr.ClassRemote:
		return 5
	case deployerr.ClassStateCorruption:
		return 6
	default:
		return 1
	}
}
