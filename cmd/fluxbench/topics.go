// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/fluxbench/bench"
	"github.com/absmach/fluxbench/transport"
	"github.com/spf13/cobra"
)

func topicsCmd() *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Provision or remove the topics of a run without sending messages",
	}
	cmd.PersistentFlags().StringSliceVarP(&kinds, "transport", "t", nil, "Transports to administer (default: run sender and receiver)")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create the topic prefixes a run publishes to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return administer(cmd.Context(), kinds, func(ctx context.Context, r *bench.Runner, prefixes []string, ks []transport.Kind) error {
				return r.Prepare(ctx, prefixes, ks...)
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the topic prefixes a run publishes to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return administer(cmd.Context(), kinds, func(ctx context.Context, r *bench.Runner, prefixes []string, ks []transport.Kind) error {
				return r.Teardown(ctx, prefixes, ks...)
			})
		},
	}
	cmd.AddCommand(create, del)
	return cmd
}

type adminFunc func(ctx context.Context, r *bench.Runner, prefixes []string, kinds []transport.Kind) error

func administer(parent context.Context, names []string, fn adminFunc) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(names) == 0 {
		names = []string{cfg.Run.Sender, cfg.Run.Receiver}
	}
	kinds := make([]transport.Kind, 0, len(names))
	for _, n := range names {
		k, err := transport.ParseKind(n)
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	runner := bench.New(cfg, nil, nil, logger)
	topo, err := runner.Topology()
	if err != nil {
		return err
	}
	if err := fn(ctx, runner, topo.Prefixes, kinds); err != nil {
		return err
	}
	for _, p := range topo.Prefixes {
		fmt.Println(p)
	}
	logger.Info("Topics administered", "prefixes", len(topo.Prefixes), "seed", topo.Seed)
	return nil
}
