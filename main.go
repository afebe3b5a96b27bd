// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ffutop/modbusctl/internal/command"
	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/transport/rtu"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("modbusctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	config.Flags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modbusctl [flags] <command> [command flags]\n\nCommands:\n")
		for _, c := range command.Commands() {
			fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.Name, c.Summary)
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	cmd, ok := command.Lookup(fs.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", fs.Arg(0))
		fs.Usage()
		os.Exit(2)
	}

	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = cmd.Run(ctx, &command.Env{Config: cfg}, fs.Args()[1:])
	stop()

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		slog.Error("Command failed", "command", cmd.Name, "err", err)
	}
	os.Exit(command.ExitCode(err))
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error", "fatal":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.Transport {
		rtu.SetFrameLogger(logger.With("component", "rtu"))
	}
}
