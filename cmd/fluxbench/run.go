// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/metrics"
	"github.com/absmach/fluxbench/server/status"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		sender, receiver string
		duration         time.Duration
		messages         int
		topicCount       int
		seed             uint64
		results          string
		minRatio         float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish generated telemetry and verify that it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("sender") {
				cfg.Run.Sender = sender
			}
			if flags.Changed("receiver") {
				cfg.Run.Receiver = receiver
			}
			if flags.Changed("duration") {
				cfg.Run.Duration = duration
			}
			if flags.Changed("messages") {
				cfg.Run.Messages = messages
			}
			if flags.Changed("topics") {
				cfg.Run.Topics = topicCount
			}
			if flags.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if flags.Changed("results") {
				cfg.Output.ResultsFile = results
			}
			if flags.Changed("min-ratio") {
				cfg.Run.MinRatio = minRatio
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runBenchmark(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&sender, "sender", "", "Sending transport (kafka, mqtt, nats, memory)")
	f.StringVar(&receiver, "receiver", "", "Receiving transport (kafka, mqtt, nats, memory)")
	f.DurationVarP(&duration, "duration", "d", 0, "Publishing time for open ended runs")
	f.IntVarP(&messages, "messages", "n", 0, "Send exactly this many pre-generated messages")
	f.IntVar(&topicCount, "topics", 0, "Number of distinct topics to generate")
	f.Uint64Var(&seed, "seed", 0, "Seed for reproducible topic and message generation")
	f.StringVarP(&results, "results", "o", "", "Append the result as a JSON line to this file")
	f.Float64Var(&minRatio, "min-ratio", 0, "Minimum delivery ratio for a passing run")
	return cmd
}

func runBenchmark(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.New(cfg, nil, nil, logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := metrics.InitProvider(cfg.Telemetry, runner.RunID())
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("OpenTelemetry shutdown failed", "error", err)
			}
		}()
		logger.Info("OpenTelemetry initialized", "endpoint", cfg.Telemetry.Endpoint)
	}
	m, err := metrics.New(nil, cfg.Run.Sender, cfg.Run.Receiver)
	if err != nil {
		return err
	}
	runner.SetMetrics(m)

	var wg sync.WaitGroup
	statusCtx, stopStatus := context.WithCancel(context.Background())
	defer func() {
		stopStatus()
		wg.Wait()
	}()
	if cfg.Status.Enabled {
		srv := status.New(status.Config{
			Address:         cfg.Status.Addr,
			ShutdownTimeout: cfg.Status.ShutdownTimeout,
		}, runner, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Listen(statusCtx); err != nil {
				logger.Error("Status server error", "error", err)
			}
		}()
	}

	logger.Info("Starting benchmark run",
		"run_id", runner.RunID(),
		"sender", cfg.Run.Sender,
		"receiver", cfg.Run.Receiver,
		"topics", cfg.Run.Topics,
		"duration", cfg.Run.Duration,
		"messages", cfg.Run.Messages)

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.Output.Table {
		if err := bench.WriteTable(os.Stdout, res); err != nil {
			return err
		}
	} else {
		fmt.Println(res.String())
	}
	if cfg.Output.ResultsFile != "" {
		if err := bench.AppendJSONLine(cfg.Output.ResultsFile, res); err != nil {
			return err
		}
		logger.Info("Result appended", "file", cfg.Output.ResultsFile)
	}

	if !res.Pass {
		logger.Error("Run failed",
			"delivery_ratio", res.DeliveryRatio,
			"min_ratio", res.MinRatio,
			"lost", res.Lost)
		return errRunFailed
	}
	return nil
}
