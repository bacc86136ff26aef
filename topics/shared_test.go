// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseShared(t *testing.T) {
	tests := []struct {
		name       string
		filter     string
		wantGroup  string
		wantFilter string
		wantShared bool
	}{
		{
			name:       "shared subtree",
			filter:     "$share/bench/umh/v1/#",
			wantGroup:  "bench",
			wantFilter: "umh/v1/#",
			wantShared: true,
		},
		{
			name:       "shared single level wildcard",
			filter:     "$share/consumers/umh/+/plant",
			wantGroup:  "consumers",
			wantFilter: "umh/+/plant",
			wantShared: true,
		},
		{
			name:       "plain filter",
			filter:     "umh/v1/#",
			wantFilter: "umh/v1/#",
		},
		{
			name:       "missing filter",
			filter:     "$share/bench",
			wantFilter: "$share/bench",
		},
		{
			name:       "empty group",
			filter:     "$share//umh/#",
			wantFilter: "$share//umh/#",
		},
		{
			name:       "prefix only",
			filter:     "$share/",
			wantFilter: "$share/",
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, filter, ok := ParseShared(tt.filter)
			assert.Equal(t, tt.wantGroup, group)
			assert.Equal(t, tt.wantFilter, filter)
			assert.Equal(t, tt.wantShared, ok)
		})
	}
}

func TestSharedRoundTrip(t *testing.T) {
	assert.Equal(t, "umh/#", Shared("", "umh/#"))

	f := Shared("bench", "umh/v1/#")
	assert.Equal(t, "$share/bench/umh/v1/#", f)

	group, filter, ok := ParseShared(f)
	assert.True(t, ok)
	assert.Equal(t, "bench", group)
	assert.Equal(t, "umh/v1/#", filter)
}
