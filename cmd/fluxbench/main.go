// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/absmach/fluxbench/config"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configFile string
	cfg        *config.Config
	logger     *slog.Logger
)

// errRunFailed makes the process exit non-zero without printing usage.
var errRunFailed = errors.New("delivery ratio below threshold")

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			slog.Error("Command failed", "error", err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fluxbench",
		Short:         "Load generator and delivery checker for pub/sub brokers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = c
			logger = newLogger(cfg.Log)
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")

	root.AddCommand(runCmd(), topicsCmd(), generateCmd(), hierarchyCmd())
	return root
}

func newLogger(c config.LogConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch c.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
