// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"slices"
	"strconv"

	"github.com/absmach/fluxbench/hierarchy"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func hierarchyCmd() *cobra.Command {
	var listTags bool

	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Describe the loaded topic hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hierarchy.Load(cfg.Hierarchy.File)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			if !listTags {
				table.Header("Property", "Value")
				rows := [][]string{
					{"namespace", h.Namespace},
					{"enterprises", strconv.Itoa(len(h.Enterprises))},
					{"depth", strconv.Itoa(h.Depth())},
					{"leaves", strconv.Itoa(h.Leaves())},
				}
				for _, row := range rows {
					if err := table.Append(row); err != nil {
						return err
					}
				}
				return table.Render()
			}

			tags := h.Tags()
			paths := make([]string, 0, len(tags))
			for p := range tags {
				paths = append(paths, p)
			}
			slices.Sort(paths)

			table.Header("Path", "Unit", "Type")
			for _, p := range paths {
				t := tags[p]
				if err := table.Append([]string{p, t.Unit.Symbol(), t.Type.String()}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().BoolVar(&listTags, "tags", false, "List every tag path with its unit and value type")
	return cmd
}
