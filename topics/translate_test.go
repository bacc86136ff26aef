// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/fluxbench/topics"
	"github.com/stretchr/testify/assert"
)

func TestToMQTTRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "full path", path: "umh.v1.plant.site1.reactor.1700000000000000000", want: "umh/v1/plant/site1/reactor/1700000000000000000"},
		{name: "single segment", path: "umh", want: "umh"},
		{name: "empty", path: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := topics.ToMQTT(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.path, topics.FromMQTT(got))
		})
	}
}

func TestFilterTranslation(t *testing.T) {
	tests := []struct {
		name   string
		dotted string
		mqtt   string
	}{
		{name: "subtree", dotted: "umh.v1.>", mqtt: "umh/v1/#"},
		{name: "single level", dotted: "umh.*.plant", mqtt: "umh/+/plant"},
		{name: "mixed", dotted: "umh.*.plant.>", mqtt: "umh/+/plant/#"},
		{name: "literal", dotted: "umh", mqtt: "umh"},
		{name: "empty", dotted: "", mqtt: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mqtt, topics.FilterToMQTT(tt.dotted))
			assert.Equal(t, tt.dotted, topics.FilterToNATS(tt.mqtt))
		})
	}
}

func TestSubtree(t *testing.T) {
	assert.Equal(t, "umh/v1/plant/#", topics.Subtree("umh.v1.plant"))
	assert.True(t, topics.Match(topics.Subtree("umh.v1.plant"), topics.ToMQTT("umh.v1.plant.site1.tag.1")))
}
