// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fluxbench/transport"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const adminTimeout = 30 * time.Second

// Admin creates and deletes topics with raw protocol requests.
type Admin struct {
	client            *kgo.Client
	partitions        int32
	replicationFactor int16
}

var _ transport.Admin = (*Admin)(nil)

// NewAdmin creates an admin client.
func NewAdmin(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	client, err := kgo.NewClient(cfg.baseOpts()...)
	if err != nil {
		return nil, fmt.Errorf("create kafka admin: %w", err)
	}
	return &Admin{
		client:            client,
		partitions:        cfg.Partitions,
		replicationFactor: cfg.ReplicationFactor,
	}, nil
}

// CreateTopics creates topics. Topics that already exist are not an error.
func (a *Admin) CreateTopics(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	req := newCreateTopicsRequest(topics, a.partitions, a.replicationFactor)
	resp, err := req.RequestWith(ctx, a.client)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	var errs []error
	for _, t := range resp.Topics {
		if err := topicError(t.ErrorCode, kerr.TopicAlreadyExists); err != nil {
			errs = append(errs, fmt.Errorf("create topic %s: %w", t.Topic, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteTopics deletes topics. Unknown topics are not an error.
func (a *Admin) DeleteTopics(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	req := newDeleteTopicsRequest(topics)
	resp, err := req.RequestWith(ctx, a.client)
	if err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	var errs []error
	for _, t := range resp.Topics {
		if err := topicError(t.ErrorCode, kerr.UnknownTopicOrPartition); err != nil {
			name := "<unknown>"
			if t.Topic != nil {
				name = *t.Topic
			}
			errs = append(errs, fmt.Errorf("delete topic %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the client.
func (a *Admin) Close() error {
	a.client.Close()
	return nil
}

func newCreateTopicsRequest(topics []string, partitions int32, rf int16) *kmsg.CreateTopicsRequest {
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = int32(adminTimeout / time.Millisecond)
	for _, name := range topics {
		t := kmsg.NewCreateTopicsRequestTopic()
		t.Topic = name
		t.NumPartitions = partitions
		t.ReplicationFactor = rf
		req.Topics = append(req.Topics, t)
	}
	return req
}

func newDeleteTopicsRequest(topics []string) *kmsg.DeleteTopicsRequest {
	req := kmsg.NewPtrDeleteTopicsRequest()
	req.TimeoutMillis = int32(adminTimeout / time.Millisecond)
	for _, name := range topics {
		// Older brokers read TopicNames, v6+ reads Topics.
		req.TopicNames = append(req.TopicNames, name)
		t := kmsg.NewDeleteTopicsRequestTopic()
		t.Topic = kmsg.StringPtr(name)
		req.Topics = append(req.Topics, t)
	}
	return req
}

// topicError converts a response error code, ignoring the tolerated one.
func topicError(code int16, tolerated *kerr.Error) error {
	err := kerr.ErrorForCode(code)
	if err == nil || errors.Is(err, tolerated) {
		return nil
	}
	return err
}
