// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fluxbench/ratelimit"
	"github.com/absmach/fluxbench/transport"
	"gopkg.in/yaml.v3"
)

// Config holds the complete benchmark configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Run        RunConfig        `yaml:"run"`
	Hierarchy  HierarchyConfig  `yaml:"hierarchy"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	NATS       NATSConfig       `yaml:"nats"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Admin      AdminConfig      `yaml:"admin"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Status     StatusConfig     `yaml:"status"`
	Output     OutputConfig     `yaml:"output"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RunConfig describes one benchmark run.
type RunConfig struct {
	// Sender and Receiver name the transports on each side of the run. They differ
	// when a bridge between two systems is measured.
	Sender   string `yaml:"sender"`
	Receiver string `yaml:"receiver"`

	// Duration bounds an open ended run. When Messages is set the publisher sends
	// exactly that many pre-generated messages instead.
	Duration time.Duration `yaml:"duration"`
	Messages int           `yaml:"messages"`

	Topics    int    `yaml:"topics"`
	Split     int    `yaml:"split"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	Seed      uint64 `yaml:"seed"`

	Warmup time.Duration `yaml:"warmup"` // subscriber head start
	Drain  time.Duration `yaml:"drain"`  // receive window after the publisher stops

	MinRatio float64 `yaml:"min_ratio"`

	// Subscriptions overrides the filters derived from the generated topic prefixes.
	Subscriptions []string `yaml:"subscriptions"`
}

// HierarchyConfig selects the topic hierarchy definition.
type HierarchyConfig struct {
	File string `yaml:"file"` // empty uses the built-in power plant
}

// KafkaConfig holds Kafka session settings.
type KafkaConfig struct {
	Brokers            []string      `yaml:"brokers"`
	ClientID           string        `yaml:"client_id"`
	MaxBufferedRecords int           `yaml:"max_buffered_records"`
	DeliveryTimeout    time.Duration `yaml:"delivery_timeout"`
	Linger             time.Duration `yaml:"linger"`
	Group              string        `yaml:"group"`
	Partitions         int32         `yaml:"partitions"`
	ReplicationFactor  int16         `yaml:"replication_factor"`
	TLS                bool          `yaml:"tls"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
}

// MQTTConfig holds MQTT session settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	Inflight       int           `yaml:"inflight"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Group          string        `yaml:"group"` // shared subscription group
	Buffer         int           `yaml:"buffer"`
}

// NATSConfig holds NATS session settings.
type NATSConfig struct {
	Servers         []string      `yaml:"servers"`
	Name            string        `yaml:"name"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Token           string        `yaml:"token"`
	ReconnectBuffer int           `yaml:"reconnect_buffer"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Group           string        `yaml:"group"` // queue group
	Buffer          int           `yaml:"buffer"`
}

// PublisherConfig holds publish loop settings.
type PublisherConfig struct {
	BatchSize         int              `yaml:"batch_size"`
	FlushTimeout      time.Duration    `yaml:"flush_timeout"`
	FinalFlushTimeout time.Duration    `yaml:"final_flush_timeout"`
	MaxBackoffDepth   int              `yaml:"max_backoff_depth"`
	RateLimit         ratelimit.Config `yaml:"rate_limit"`
}

// SubscriberConfig holds receive loop settings.
type SubscriberConfig struct {
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	BatchSize    int           `yaml:"batch_size"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

// AdminConfig controls topic provisioning before a run.
type AdminConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Recreate         bool          `yaml:"recreate"` // delete topics before creating them
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"` // OTLP gRPC collector
	Insecure        bool          `yaml:"insecure"` // plaintext gRPC to the collector
	ServiceName     string        `yaml:"service_name"`
	ServiceVersion  string        `yaml:"service_version"`
	ExportInterval  time.Duration `yaml:"export_interval"`
	TracesEnabled   bool          `yaml:"traces_enabled"`
	TraceSampleRate float64       `yaml:"trace_sample_rate"`
}

// StatusConfig holds the status HTTP endpoint settings.
type StatusConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OutputConfig controls how results are reported.
type OutputConfig struct {
	ResultsFile string `yaml:"results_file"` // JSON lines, appended
	Table       bool   `yaml:"table"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Run: RunConfig{
			Sender:    string(transport.Kafka),
			Receiver:  string(transport.Kafka),
			Duration:  60 * time.Second,
			Topics:    1000,
			Split:     5,
			Workers:   4,
			QueueSize: 10_000,
			Warmup:    2 * time.Second,
			Drain:     10 * time.Second,
			MinRatio:  0.99,
		},
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			ClientID:           "fluxbench",
			MaxBufferedRecords: 100_000,
			DeliveryTimeout:    30 * time.Second,
			Linger:             5 * time.Millisecond,
			Group:              "fluxbench",
			Partitions:         1,
			ReplicationFactor:  1,
		},
		MQTT: MQTTConfig{
			Broker:         "localhost:1883",
			ClientID:       "fluxbench",
			QoS:            1,
			Inflight:       10_000,
			ConnectTimeout: 10 * time.Second,
			KeepAlive:      30 * time.Second,
			Buffer:         100_000,
		},
		NATS: NATSConfig{
			Servers:         []string{"localhost:4222"},
			Name:            "fluxbench",
			ReconnectBuffer: 64 * 1024 * 1024,
			ConnectTimeout:  10 * time.Second,
			Buffer:          100_000,
		},
		Publisher: PublisherConfig{
			BatchSize:         10_000,
			FlushTimeout:      time.Second,
			FinalFlushTimeout: 10 * time.Second,
			MaxBackoffDepth:   10,
			RateLimit:         ratelimit.DefaultConfig(),
		},
		Subscriber: SubscriberConfig{
			PollTimeout:  time.Second,
			BatchSize:    10_000,
			ErrorBackoff: 100 * time.Millisecond,
		},
		Admin: AdminConfig{
			Enabled:          true,
			Recreate:         false,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Insecure:        true,
			ServiceName:     "fluxbench",
			ServiceVersion:  "1.0.0",
			ExportInterval:  10 * time.Second,
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
		},
		Status: StatusConfig{
			Enabled:         false,
			Addr:            ":8082",
			ShutdownTimeout: 5 * time.Second,
		},
		Output: OutputConfig{
			Table: true,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SenderKind returns the parsed sender transport.
func (c *Config) SenderKind() (transport.Kind, error) {
	return transport.ParseKind(c.Run.Sender)
}

// ReceiverKind returns the parsed receiver transport.
func (c *Config) ReceiverKind() (transport.Kind, error) {
	return transport.ParseKind(c.Run.Receiver)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	sender, err := c.SenderKind()
	if err != nil {
		return fmt.Errorf("run.sender: %w", err)
	}
	receiver, err := c.ReceiverKind()
	if err != nil {
		return fmt.Errorf("run.receiver: %w", err)
	}
	if (sender == transport.Memory) != (receiver == transport.Memory) {
		return fmt.Errorf("run.sender and run.receiver must both be memory or neither")
	}
	if c.Run.Duration <= 0 && c.Run.Messages <= 0 {
		return fmt.Errorf("run.duration or run.messages must be positive")
	}
	if c.Run.Messages < 0 {
		return fmt.Errorf("run.messages cannot be negative")
	}
	if c.Run.Topics < 1 {
		return fmt.Errorf("run.topics must be at least 1")
	}
	if c.Run.Split < 1 {
		return fmt.Errorf("run.split must be at least 1")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1")
	}
	if c.Run.QueueSize < 1 {
		return fmt.Errorf("run.queue_size must be at least 1")
	}
	if c.Run.Warmup < 0 || c.Run.Drain < 0 {
		return fmt.Errorf("run.warmup and run.drain cannot be negative")
	}
	if c.Run.MinRatio < 0.0 || c.Run.MinRatio > 1.0 {
		return fmt.Errorf("run.min_ratio must be between 0.0 and 1.0")
	}

	for _, k := range []transport.Kind{sender, receiver} {
		if err := c.validateTransport(k); err != nil {
			return err
		}
	}

	if c.Publisher.BatchSize < 1 {
		return fmt.Errorf("publisher.batch_size must be at least 1")
	}
	if c.Publisher.FlushTimeout <= 0 {
		return fmt.Errorf("publisher.flush_timeout must be positive")
	}
	if c.Publisher.FinalFlushTimeout <= 0 {
		return fmt.Errorf("publisher.final_flush_timeout must be positive")
	}
	if c.Publisher.MaxBackoffDepth < 1 {
		return fmt.Errorf("publisher.max_backoff_depth must be at least 1")
	}
	if err := c.Publisher.RateLimit.Validate(); err != nil {
		return fmt.Errorf("publisher.rate_limit: %w", err)
	}

	if c.Subscriber.PollTimeout <= 0 {
		return fmt.Errorf("subscriber.poll_timeout must be positive")
	}
	if c.Subscriber.BatchSize < 1 {
		return fmt.Errorf("subscriber.batch_size must be at least 1")
	}
	if c.Subscriber.ErrorBackoff < 0 {
		return fmt.Errorf("subscriber.error_backoff cannot be negative")
	}

	if c.Admin.Enabled {
		if c.Admin.Timeout <= 0 {
			return fmt.Errorf("admin.timeout must be positive")
		}
		if c.Admin.FailureThreshold < 1 {
			return fmt.Errorf("admin.failure_threshold must be at least 1")
		}
	}

	// OpenTelemetry validation (only if enabled)
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry enabled")
		}
		if c.Telemetry.ExportInterval <= 0 {
			return fmt.Errorf("telemetry.export_interval must be positive when telemetry enabled")
		}
		if c.Telemetry.TraceSampleRate < 0.0 || c.Telemetry.TraceSampleRate > 1.0 {
			return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr required when status is enabled")
	}

	return nil
}

func (c *Config) validateTransport(k transport.Kind) error {
	switch k {
	case transport.Kafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty")
		}
		for _, b := range c.Kafka.Brokers {
			if err := transport.ValidateAddress(b); err != nil {
				return fmt.Errorf("kafka.brokers: %w", err)
			}
		}
		if c.Kafka.Group == "" {
			return fmt.Errorf("kafka.group cannot be empty")
		}
	case transport.MQTT:
		if err := transport.ValidateAddress(c.MQTT.Broker); err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	case transport.NATS:
		if len(c.NATS.Servers) == 0 {
			return fmt.Errorf("nats.servers cannot be empty")
		}
		for _, s := range c.NATS.Servers {
			if err := transport.ValidateAddress(s); err != nil {
				return fmt.Errorf("nats.servers: %w", err)
			}
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
