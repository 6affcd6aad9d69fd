package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	// errFindings makes the process exit 2 when --fail-on-findings (or the
	// policy) asks for it and something was flagged.
	errFindings = errors.New("findings present")
	// errUnhealthy makes doctor exit 1 without printing anything more.
	errUnhealthy = errors.New("environment unhealthy")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, newApp(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and maps the outcome to the exit code:
// 0 success, 1 error, 2 findings with --fail-on-findings, 130 interrupted.
func run(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "Interrupted.")
		return 130
	case errors.Is(err, errFindings):
		return 2
	case errors.Is(err, errUnhealthy):
		return 1
	default:
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
}
