package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dixcover/dixcover/internal/cli"
)

func main() {
	ctx := context.Background()

	// LevelVar allows --verbose to switch the level after construction.
	programLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))

	if err := run(ctx, os.Args, os.Getenv, logger, programLevel); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	args []string,
	getenv func(string) string,
	logger *slog.Logger,
	programLevel *slog.LevelVar,
) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := cli.NewRootCmd(logger, programLevel, getenv)
	rootCmd.SetArgs(args[1:])
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	return rootCmd.ExecuteContext(ctx)
}
