// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"fmt"
	"log/slog"

	"github.com/absmach/fluxbench/config"
	"github.com/absmach/fluxbench/topics"
	"github.com/absmach/fluxbench/transport"
	"github.com/absmach/fluxbench/transport/kafka"
	"github.com/absmach/fluxbench/transport/memory"
	"github.com/absmach/fluxbench/transport/mqtt"
	"github.com/absmach/fluxbench/transport/nats"
)

// Dialer opens transport sessions from the run configuration. Memory sessions share
// one in-process broker.
type Dialer struct {
	cfg    *config.Config
	runID  string
	broker *memory.Broker
	logger *slog.Logger
}

// NewDialer creates a dialer. A nil broker gets a fresh in-process broker.
func NewDialer(cfg *config.Config, runID string, broker *memory.Broker, logger *slog.Logger) *Dialer {
	if broker == nil {
		broker = memory.NewBroker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, runID: runID, broker: broker, logger: logger}
}

// Broker returns the in-process broker used by memory sessions.
func (d *Dialer) Broker() *memory.Broker {
	return d.broker
}

func (d *Dialer) clientID(base, role string) string {
	id := d.runID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s-%s", base, role, id)
}

func (d *Dialer) kafkaConfig(role string) kafka.Config {
	c := d.cfg.Kafka
	return kafka.Config{
		Brokers:            c.Brokers,
		ClientID:           d.clientID(c.ClientID, role),
		MaxBufferedRecords: c.MaxBufferedRecords,
		DeliveryTimeout:    c.DeliveryTimeout,
		Linger:             c.Linger,
		Group:              c.Group,
		Partitions:         c.Partitions,
		ReplicationFactor:  c.ReplicationFactor,
		TLS:                c.TLS,
		Username:           c.Username,
		Password:           c.Password,
	}
}

func (d *Dialer) mqttConfig(role string) mqtt.Config {
	c := d.cfg.MQTT
	return mqtt.Config{
		Broker:         c.Broker,
		ClientID:       d.clientID(c.ClientID, role),
		QoS:            c.QoS,
		Inflight:       c.Inflight,
		ConnectTimeout: c.ConnectTimeout,
		KeepAlive:      c.KeepAlive,
		Username:       c.Username,
		Password:       c.Password,
		Group:          c.Group,
		Buffer:         c.Buffer,
	}
}

func (d *Dialer) natsConfig(role string) nats.Config {
	c := d.cfg.NATS
	return nats.Config{
		Servers:         c.Servers,
		Name:            d.clientID(c.Name, role),
		Username:        c.Username,
		Password:        c.Password,
		Token:           c.Token,
		ReconnectBuffer: c.ReconnectBuffer,
		ConnectTimeout:  c.ConnectTimeout,
		Group:           c.Group,
		Buffer:          c.Buffer,
	}
}

// Producer opens a publishing session.
func (d *Dialer) Producer(kind transport.Kind) (transport.Producer, error) {
	logger := d.logger.With(slog.String("transport", string(kind)), slog.String("role", "producer"))
	switch kind {
	case transport.Kafka:
		return kafka.NewProducer(d.kafkaConfig("pub"), logger)
	case transport.MQTT:
		return mqtt.NewProducer(d.mqttConfig("pub"), logger)
	case transport.NATS:
		return nats.NewProducer(d.natsConfig("pub"), logger)
	case transport.Memory:
		return d.broker.NewProducer(memory.ProducerConfig{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, kind)
	}
}

// Consumer opens a receiving session on subscriptions, given in the transport's own
// form (see Subscriptions).
func (d *Dialer) Consumer(kind transport.Kind, subscriptions []string) (transport.Consumer, error) {
	logger := d.logger.With(slog.String("transport", string(kind)), slog.String("role", "consumer"))
	switch kind {
	case transport.Kafka:
		return kafka.NewConsumer(d.kafkaConfig("sub"), subscriptions)
	case transport.MQTT:
		return mqtt.NewConsumer(d.mqttConfig("sub"), subscriptions, logger)
	case transport.NATS:
		return nats.NewConsumer(d.natsConfig("sub"), subscriptions, logger)
	case transport.Memory:
		return d.broker.Subscribe("", subscriptions...)
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, kind)
	}
}

// Admin opens a topic administration session. Transports whose topics spring into
// existence on first publish get transport.NopAdmin.
func (d *Dialer) Admin(kind transport.Kind) (transport.Admin, error) {
	switch kind {
	case transport.Kafka:
		return kafka.NewAdmin(d.kafkaConfig("admin"))
	case transport.Memory:
		return d.broker.Admin(), nil
	case transport.MQTT, transport.NATS:
		return transport.NopAdmin{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, kind)
	}
}

// Subscriptions derives the receive side subscriptions covering every prefix:
// topic names for Kafka, subtree filters for MQTT and the in-process broker, and full
// wildcard subjects for NATS.
func Subscriptions(kind transport.Kind, prefixes []string) ([]string, error) {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		switch kind {
		case transport.Kafka:
			out = append(out, p)
		case transport.MQTT, transport.Memory:
			out = append(out, topics.Subtree(p))
		case transport.NATS:
			out = append(out, p+".>")
		default:
			return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, kind)
		}
	}
	return out, nil
}
