// cmd/stepfile/main.go
//
// Entry point for the stepfile CLI. Interrupts cancel the context so waiters
// stop blocking on foreign sentinels.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kingrea/stepfile/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
