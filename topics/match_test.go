// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/fluxbench/topics"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"umh/v1/plant", "umh/v1/plant", true},
		{"umh/+", "umh/v1", true},
		{"umh/+", "umh", false},
		{"umh/+", "umh/v1/plant", false},
		{"umh/v1/plant/#", "umh/v1/plant/site1/reactor/1700000000", true},
		{"umh/v1/plant/#", "umh/v1/plant", true},
		{"umh/v1/plant/#", "umh/v1/plantx/site1", false},
		{"#", "umh/v1", true},
		{"+/+", "umh/v1", true},
		{"+/+", "umh/v1/plant", false},
		{"umh/+/plant/#", "umh/v1/plant/site1", true},
		{"$SYS/#", "$SYS/broker/clients", true},
		{"#", "$SYS/broker/clients", false},
		{"+/broker/clients", "$SYS/broker/clients", false},
		{"umh/v1", "umh/v2", false},
		{"umh/v1", "umh/v1/plant", false},
		{"umh/#/plant", "umh/v1/plant", false},
		{"", "umh", false},
		{"umh", "", false},
	}

	for _, tt := range tests {
		if got := topics.Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
