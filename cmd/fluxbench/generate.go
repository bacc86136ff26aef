// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/generator"
	"github.com/absmach/fluxbench/identity"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type generatedLine struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Hash    string          `json:"hash"`
	Payload json.RawMessage `json:"payload"`
}

func generateCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print synthesized messages as JSON lines without contacting a broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			topo, err := bench.New(cfg, nil, nil, logger).Topology()
			if err != nil {
				return err
			}
			synth, err := generator.NewSynthesizer(cfg.Run.Split, generator.NewClock(nil))
			if err != nil {
				return err
			}
			pipe, err := generator.NewPipeline(topo.Records, synth, generator.PipelineConfig{
				Workers:   cfg.Run.Workers,
				QueueSize: cfg.Run.QueueSize,
				Seed:      topo.Seed,
			}, logger)
			if err != nil {
				return err
			}
			msgs, err := pipe.Generate(ctx, count)
			if err != nil {
				return err
			}

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			enc := json.NewEncoder(out)
			var hasher identity.Hasher
			for _, m := range msgs {
				line := generatedLine{
					Topic:   m.Topic,
					Key:     m.Key,
					Hash:    hasher.Sum(m.Topic, m.Key, m.Payload).String(),
					Payload: bytes.TrimSpace(m.Payload),
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of messages to print")
	return cmd
}
