// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Run.Sender != "kafka" || cfg.Run.Receiver != "kafka" {
		t.Errorf("expected kafka on both sides, got %s/%s", cfg.Run.Sender, cfg.Run.Receiver)
	}
	if cfg.Run.Topics != 1000 {
		t.Errorf("expected 1000 topics, got %d", cfg.Run.Topics)
	}

	// Publisher defaults
	if cfg.Publisher.BatchSize != 10000 {
		t.Errorf("expected batch size 10000, got %d", cfg.Publisher.BatchSize)
	}
	if cfg.Publisher.MaxBackoffDepth != 10 {
		t.Errorf("expected max backoff depth 10, got %d", cfg.Publisher.MaxBackoffDepth)
	}
	if cfg.Publisher.FlushTimeout != time.Second {
		t.Errorf("expected flush timeout 1s, got %v", cfg.Publisher.FlushTimeout)
	}

	// Subscriber defaults
	if cfg.Subscriber.PollTimeout != time.Second {
		t.Errorf("expected poll timeout 1s, got %v", cfg.Subscriber.PollTimeout)
	}
	if cfg.Subscriber.ErrorBackoff != 100*time.Millisecond {
		t.Errorf("expected error backoff 100ms, got %v", cfg.Subscriber.ErrorBackoff)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "memory on both sides",
			modify: func(c *Config) {
				c.Run.Sender = "memory"
				c.Run.Receiver = "memory"
			},
			wantErr: false,
		},
		{
			name: "kafka to mqtt bridge",
			modify: func(c *Config) {
				c.Run.Receiver = "mqtt"
			},
			wantErr: false,
		},
		{
			name: "memory mixed with a broker",
			modify: func(c *Config) {
				c.Run.Sender = "memory"
			},
			wantErr: true,
		},
		{
			name: "unknown transport",
			modify: func(c *Config) {
				c.Run.Receiver = "amqp"
			},
			wantErr: true,
		},
		{
			name: "no duration and no message count",
			modify: func(c *Config) {
				c.Run.Duration = 0
			},
			wantErr: true,
		},
		{
			name: "message count without duration",
			modify: func(c *Config) {
				c.Run.Duration = 0
				c.Run.Messages = 5000
			},
			wantErr: false,
		},
		{
			name: "zero split",
			modify: func(c *Config) {
				c.Run.Split = 0
			},
			wantErr: true,
		},
		{
			name: "min ratio above one",
			modify: func(c *Config) {
				c.Run.MinRatio = 1.5
			},
			wantErr: true,
		},
		{
			name: "kafka broker without port",
			modify: func(c *Config) {
				c.Kafka.Brokers = []string{"localhost"}
			},
			wantErr: true,
		},
		{
			name: "kafka brokers ignored for nats run",
			modify: func(c *Config) {
				c.Run.Sender = "nats"
				c.Run.Receiver = "nats"
				c.Kafka.Brokers = nil
			},
			wantErr: false,
		},
		{
			name: "invalid mqtt qos",
			modify: func(c *Config) {
				c.Run.Receiver = "mqtt"
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "negative backoff depth",
			modify: func(c *Config) {
				c.Publisher.MaxBackoffDepth = -1
			},
			wantErr: true,
		},
		{
			name: "rate limit enabled without rate",
			modify: func(c *Config) {
				c.Publisher.RateLimit.Enabled = true
				c.Publisher.RateLimit.Rate = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "telemetry sample rate out of range",
			modify: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.TraceSampleRate = 2
			},
			wantErr: true,
		},
		{
			name: "telemetry without export interval",
			modify: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.ExportInterval = 0
			},
			wantErr: true,
		},
		{
			name: "telemetry enabled with defaults",
			modify: func(c *Config) {
				c.Telemetry.Enabled = true
			},
			wantErr: false,
		},
		{
			name: "status without address",
			modify: func(c *Config) {
				c.Status.Enabled = true
				c.Status.Addr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}
	if cfg.Run.Split != 5 {
		t.Errorf("expected default config, got split %d", cfg.Run.Split)
	}
}

func TestLoadPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	data := []byte(`
run:
  sender: nats
  receiver: nats
  messages: 2500
nats:
  servers: ["nats-1:4222", "nats-2:4222"]
publisher:
  rate_limit:
    enabled: true
    rate: 500
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.Messages != 2500 {
		t.Errorf("expected 2500 messages, got %d", cfg.Run.Messages)
	}
	if len(cfg.NATS.Servers) != 2 {
		t.Errorf("expected 2 nats servers, got %v", cfg.NATS.Servers)
	}
	// Unset fields keep their defaults.
	if cfg.Run.Topics != 1000 {
		t.Errorf("expected default topic count, got %d", cfg.Run.Topics)
	}
	if !cfg.Publisher.RateLimit.Enabled || cfg.Publisher.RateLimit.Rate != 500 {
		t.Errorf("unexpected rate limit %+v", cfg.Publisher.RateLimit)
	}
	if cfg.Publisher.RateLimit.Burst != 1000 {
		t.Errorf("expected default burst, got %d", cfg.Publisher.RateLimit.Burst)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte("run:\n  split: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}

	if err := os.WriteFile(path, []byte("run: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	cfg := Default()
	cfg.Run.Receiver = "mqtt"
	cfg.MQTT.Group = "bench"
	cfg.Publisher.FlushTimeout = 3 * time.Second
	cfg.Log.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Run.Receiver != "mqtt" {
		t.Errorf("expected receiver mqtt, got %s", loaded.Run.Receiver)
	}
	if loaded.MQTT.Group != "bench" {
		t.Errorf("expected mqtt group bench, got %s", loaded.MQTT.Group)
	}
	if loaded.Publisher.FlushTimeout != 3*time.Second {
		t.Errorf("expected flush timeout 3s, got %v", loaded.Publisher.FlushTimeout)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}
