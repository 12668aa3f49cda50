package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"listings-etl/cli"
)

func main() {
	// Cancel the run on shutdown; files already recorded stay recorded.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
