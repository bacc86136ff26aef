// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package reconcile compares the identities recorded by the sending and receiving sides
// of a run.
package reconcile

import (
	"fmt"

	"github.com/absmach/fluxbench/identity"
)

// Status classifies one identity.
type Status uint8

// Identity classes.
const (
	// Sent identities were published but never observed: lost.
	Sent Status = iota + 1
	// Received identities were observed but not published by this run: strays.
	Received
	// SentAndReceived identities were delivered.
	SentAndReceived
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Received:
		return "received"
	case SentAndReceived:
		return "sent_and_received"
	default:
		return "unknown"
	}
}

// Classify tags every identity of either side. Send side identities start as Sent and
// are promoted when they are observed; identities only seen on the receive side are
// Received.
func Classify(sent, received []identity.Hash) map[identity.Hash]Status {
	m := make(map[identity.Hash]Status, len(sent))
	for _, h := range sent {
		m[h] = Sent
	}
	for _, h := range received {
		switch m[h] {
		case Sent, SentAndReceived:
			m[h] = SentAndReceived
		default:
			m[h] = Received
		}
	}
	return m
}

// Report summarizes a reconciliation.
type Report struct {
	Sent       int     `json:"sent"`     // unique send side identities
	Received   int     `json:"received"` // receive side identities, duplicates included
	Delivered  int     `json:"delivered"`
	Lost       int     `json:"lost"`
	Stray      int     `json:"stray"`
	Duplicates int     `json:"duplicates"` // repeated receive side identities
	Ratio      float64 `json:"ratio"`
}

// Reconcile classifies both sides and computes the delivery ratio
// delivered / (delivered + lost). Strays are not attributable to the run and are left
// out of the ratio. The ratio is zero when nothing was sent.
func Reconcile(sent, received []identity.Hash) Report {
	r := Report{Received: len(received)}

	seen := make(map[identity.Hash]struct{}, len(received))
	for _, h := range received {
		if _, ok := seen[h]; ok {
			r.Duplicates++
			continue
		}
		seen[h] = struct{}{}
	}

	for _, st := range Classify(sent, received) {
		switch st {
		case Sent:
			r.Lost++
		case Received:
			r.Stray++
		case SentAndReceived:
			r.Delivered++
		}
	}
	r.Sent = r.Delivered + r.Lost
	if r.Sent > 0 {
		r.Ratio = float64(r.Delivered) / float64(r.Sent)
	}
	return r
}

// Percent returns the ratio as a percentage.
func (r Report) Percent() float64 {
	return r.Ratio * 100
}

// Pass reports whether the ratio reaches threshold.
func (r Report) Pass(threshold float64) bool {
	return r.Sent > 0 && r.Ratio >= threshold
}

// String formats the report as a single progress line.
func (r Report) String() string {
	return fmt.Sprintf("received %.2f%% of messages [%d of %d] lost=%d stray=%d duplicates=%d",
		r.Percent(), r.Delivered, r.Sent, r.Lost, r.Stray, r.Duplicates)
}
