package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anvil-build/anvil/internal/app"
	"github.com/anvil-build/anvil/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd()
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usage *cli.UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(os.Stderr, "usage error:", usage.Err)
		return 2
	}
	if !errors.Is(err, app.ErrBuildFailed) {
		// Build failures print their own report; everything else does not.
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return 1
}
