// Package main is the entry point for the chatbridge binary.
// It delegates immediately to the CLI command tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/neoclaw-ai/chatbridge/internal/cli"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		logging.Logger().Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}
