package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"framer/internal/cli"
	"framer/internal/config"
	"framer/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	root, err := cli.Open(cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.NewRootCmd(root).ExecuteContext(ctx)
	stop()
	if cerr := root.Close(); cerr != nil {
		log.Warn("shutdown", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
