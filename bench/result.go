// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
)

// Result is the outcome of one run.
type Result struct {
	Timestamp     string  `json:"timestamp"`
	RunID         string  `json:"run_id"`
	Sender        string  `json:"sender"`
	Receiver      string  `json:"receiver"`
	Topics        int     `json:"topics"`
	Prefixes      int     `json:"prefixes"`
	Split         int     `json:"split"`
	Generated     uint64  `json:"generated"`
	Published     uint64  `json:"published"`
	Failed        uint64  `json:"failed"`
	Retries       uint64  `json:"retries"`
	Received      uint64  `json:"received"`
	ReceiveErrors uint64  `json:"receive_errors"`
	Delivered     int     `json:"delivered"`
	Lost          int     `json:"lost"`
	Stray         int     `json:"stray"`
	Duplicates    int     `json:"duplicates"`
	DeliveryRatio float64 `json:"delivery_ratio"`
	PublishRate   float64 `json:"publish_rate_mps"`
	ReceiveRate   float64 `json:"receive_rate_mps"`
	DurationMS    int64   `json:"duration_ms"`
	MinRatio      float64 `json:"min_ratio"`
	Pass          bool    `json:"pass"`
	Notes         string  `json:"notes,omitempty"`
}

// String returns a one line summary.
func (r Result) String() string {
	return fmt.Sprintf("run=%s sender=%s receiver=%s topics=%d published=%d received=%d delivered=%d lost=%d stray=%d mps_sent=%.2f mps_recv=%.2f ratio=%.4f pass=%v duration_ms=%d",
		r.RunID, r.Sender, r.Receiver, r.Topics, r.Published, r.Received, r.Delivered, r.Lost, r.Stray,
		r.PublishRate, r.ReceiveRate, r.DeliveryRatio, r.Pass, r.DurationMS)
}

// WriteTable renders r as a two column table.
func WriteTable(w io.Writer, r Result) error {
	verdict := "FAIL"
	if r.Pass {
		verdict = "PASS"
	}
	rows := [][]string{
		{"run", r.RunID},
		{"transports", r.Sender + " -> " + r.Receiver},
		{"topics", humanize.Comma(int64(r.Topics))},
		{"prefixes", humanize.Comma(int64(r.Prefixes)) + " (split " + strconv.Itoa(r.Split) + ")"},
		{"generated", humanize.Comma(int64(r.Generated))},
		{"published", humanize.Comma(int64(r.Published))},
		{"failed", humanize.Comma(int64(r.Failed))},
		{"retries", humanize.Comma(int64(r.Retries))},
		{"received", humanize.Comma(int64(r.Received))},
		{"receive errors", humanize.Comma(int64(r.ReceiveErrors))},
		{"delivered", humanize.Comma(int64(r.Delivered))},
		{"lost", humanize.Comma(int64(r.Lost))},
		{"stray", humanize.Comma(int64(r.Stray))},
		{"duplicates", humanize.Comma(int64(r.Duplicates))},
		{"publish rate", humanize.CommafWithDigits(r.PublishRate, 1) + " msg/s"},
		{"receive rate", humanize.CommafWithDigits(r.ReceiveRate, 1) + " msg/s"},
		{"delivery", fmt.Sprintf("%.2f%% (min %.2f%%)", r.DeliveryRatio*100, r.MinRatio*100)},
		{"duration", humanize.Comma(r.DurationMS) + " ms"},
		{"verdict", verdict},
	}
	if r.Notes != "" {
		rows = append(rows, []string{"notes", r.Notes})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append result row: %w", err)
		}
	}
	return table.Render()
}

// AppendJSONLine appends r as one JSON line to the file at path, creating it if needed.
func AppendJSONLine(path string, r Result) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write results file %s: %w", path, err)
	}
	return nil
}
