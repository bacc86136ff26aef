// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrCapacity))
	assert.True(t, IsTransient(fmt.Errorf("send: %w", ErrCapacity)))
	assert.False(t, IsTransient(ErrClosed))
	assert.False(t, IsTransient(nil))
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"kafka", "MQTT", " nats ", "memory"} {
		_, err := ParseKind(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseKind("amqp")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		addr  string
		valid bool
	}{
		{"localhost:9092", true},
		{"10.0.0.1:1883", true},
		{"[::1]:4222", true},
		{"localhost", false},
		{":9092", false},
		{"localhost:0", false},
		{"localhost:70000", false},
		{"localhost:kafka", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateAddress(c.addr)
		if c.valid {
			assert.NoError(t, err, c.addr)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidAddress, c.addr)
	}
}

func TestParseAddrList(t *testing.T) {
	addrs, err := ParseAddrList("a:1, b:2,,c:3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, addrs)

	_, err = ParseAddrList(" , ")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddrList("a:1,b")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestNopAdmin(t *testing.T) {
	var a Admin = NopAdmin{}
	assert.NoError(t, a.CreateTopics(context.Background(), "x"))
	assert.NoError(t, a.DeleteTopics(context.Background(), "x"))
	assert.NoError(t, a.Close())
}
