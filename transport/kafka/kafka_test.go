// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxbench/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		brokers []string
		valid   bool
	}{
		{"single", []string{"localhost:9092"}, true},
		{"multiple", []string{"k1:9092", "k2:9092"}, true},
		{"none", nil, false},
		{"missing port", []string{"localhost"}, false},
		{"one bad", []string{"k1:9092", "k2"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Config{Brokers: c.brokers}.Validate()
			if c.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, transport.ErrInvalidAddress)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.setDefaults()
	assert.Equal(t, DefaultMaxBufferedRecords, c.MaxBufferedRecords)
	assert.Equal(t, DefaultDeliveryTimeout, c.DeliveryTimeout)
	assert.Equal(t, int32(DefaultPartitions), c.Partitions)
	assert.Equal(t, int16(DefaultReplicationFactor), c.ReplicationFactor)

	c = Config{MaxBufferedRecords: 5, Partitions: 12}
	c.setDefaults()
	assert.Equal(t, 5, c.MaxBufferedRecords)
	assert.Equal(t, int32(12), c.Partitions)
}

func TestSessionConstructors(t *testing.T) {
	_, err := NewProducer(Config{}, nil)
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, []string{"t"})
	assert.Error(t, err)

	_, err = NewAdmin(Config{Brokers: []string{"bad"}})
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)
}

func TestProducerClosed(t *testing.T) {
	p, err := NewProducer(Config{Brokers: []string{"127.0.0.1:9092"}, DeliveryTimeout: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	ctx := context.Background()
	assert.ErrorIs(t, p.Send(ctx, "t", "k", nil), transport.ErrClosed)
	assert.ErrorIs(t, p.Flush(ctx), transport.ErrClosed)
}

func TestPollServesPendingAfterCancel(t *testing.T) {
	c := &Consumer{pending: []*kgo.Record{
		{Topic: "umh.v1.e", Key: []byte("s1.a.1"), Value: []byte(`{"watt":1}`)},
		{Topic: "umh.v1.e", Key: []byte("s1.a.2"), Value: []byte(`{"watt":2}`)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, key := range []string{"s1.a.1", "s1.a.2"} {
		msg, err := c.Poll(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, "umh.v1.e", msg.Topic)
		assert.Equal(t, key, msg.Key)
	}
	assert.Empty(t, c.pending)

	c.closed.Store(true)
	_, err := c.Poll(ctx, 0)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestCreateTopicsRequest(t *testing.T) {
	req := newCreateTopicsRequest([]string{"a", "b"}, 3, 2)
	require.Len(t, req.Topics, 2)
	assert.Equal(t, "a", req.Topics[0].Topic)
	assert.Equal(t, int32(3), req.Topics[1].NumPartitions)
	assert.Equal(t, int16(2), req.Topics[1].ReplicationFactor)
	assert.Equal(t, int32(30_000), req.TimeoutMillis)
}

func TestDeleteTopicsRequest(t *testing.T) {
	req := newDeleteTopicsRequest([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, req.TopicNames)
	require.Len(t, req.Topics, 2)
	require.NotNil(t, req.Topics[1].Topic)
	assert.Equal(t, "b", *req.Topics[1].Topic)
}

func TestTopicError(t *testing.T) {
	assert.NoError(t, topicError(0, kerr.TopicAlreadyExists))
	assert.NoError(t, topicError(kerr.TopicAlreadyExists.Code, kerr.TopicAlreadyExists))
	assert.NoError(t, topicError(kerr.UnknownTopicOrPartition.Code, kerr.UnknownTopicOrPartition))

	err := topicError(kerr.TopicAuthorizationFailed.Code, kerr.TopicAlreadyExists)
	assert.ErrorIs(t, err, kerr.TopicAuthorizationFailed)
}
