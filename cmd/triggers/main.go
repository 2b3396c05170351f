// Package main starts the trigger worker process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	triggerscmd "github.com/louisbranch/revents/internal/cmd/triggers"
	"github.com/louisbranch/revents/internal/platform/config"
)

func main() {
	cfg, err := triggerscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ExitOnError("triggers", triggerscmd.Run(ctx, cfg))
}
