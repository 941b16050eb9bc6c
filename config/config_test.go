// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test dispatcher defaults
	if cfg.Dispatcher.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Dispatcher.RetryDelay != 5*time.Second {
		t.Errorf("expected retry delay 5s, got %v", cfg.Dispatcher.RetryDelay)
	}
	if cfg.Dispatcher.InactivityResetDelay != time.Minute {
		t.Errorf("expected inactivity reset delay 1m, got %v", cfg.Dispatcher.InactivityResetDelay)
	}
	if cfg.Dispatcher.BackoffUnit != time.Millisecond {
		t.Errorf("expected backoff unit 1ms, got %v", cfg.Dispatcher.BackoffUnit)
	}

	// Test producer defaults
	if len(cfg.Producers) != 1 || cfg.Producers[0].Type != ProducerAMQP {
		t.Errorf("expected one default amqp producer, got %+v", cfg.Producers)
	}

	// Test log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
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
			name: "zero max attempts is valid",
			modify: func(c *Config) {
				c.Dispatcher.MaxAttempts = 0
			},
			wantErr: false,
		},
		{
			name: "negative max attempts",
			modify: func(c *Config) {
				c.Dispatcher.MaxAttempts = -1
			},
			wantErr: true,
		},
		{
			name: "negative retry delay",
			modify: func(c *Config) {
				c.Dispatcher.RetryDelay = -time.Second
			},
			wantErr: true,
		},
		{
			name: "negative inactivity reset delay",
			modify: func(c *Config) {
				c.Dispatcher.InactivityResetDelay = -time.Second
			},
			wantErr: true,
		},
		{
			name: "no producers",
			modify: func(c *Config) {
				c.Producers = nil
			},
			wantErr: true,
		},
		{
			name: "duplicate producer names",
			modify: func(c *Config) {
				c.Producers = append(c.Producers, c.Producers[0])
			},
			wantErr: true,
		},
		{
			name: "unknown producer type",
			modify: func(c *Config) {
				c.Producers[0].Type = "kafka"
			},
			wantErr: true,
		},
		{
			name: "producer without url",
			modify: func(c *Config) {
				c.Producers[0].URL = ""
			},
			wantErr: true,
		},
		{
			name: "mqtt producer with invalid qos",
			modify: func(c *Config) {
				c.Producers = append(c.Producers, ProducerConfig{
					Name: "edge",
					Type: ProducerMQTT,
					URL:  "tcp://localhost:1883",
					QoS:  3,
				})
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
			name: "invalid log format",
			modify: func(c *Config) {
				c.Log.Format = "xml"
			},
			wantErr: true,
		},
		{
			name: "breaker enabled without threshold",
			modify: func(c *Config) {
				c.Breaker.Enabled = true
				c.Breaker.FailureThreshold = 0
			},
			wantErr: true,
		},
		{
			name: "rate limit enabled with zero rate",
			modify: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Rate = 0
			},
			wantErr: true,
		},
		{
			name: "trace sample rate out of range",
			modify: func(c *Config) {
				c.Telemetry.TracesEnabled = true
				c.Telemetry.TraceSampleRate = 1.5
			},
			wantErr: true,
		},
		{
			name: "collector CA with insecure transport",
			modify: func(c *Config) {
				c.Telemetry.MetricsEnabled = true
				c.Telemetry.CAFile = "/etc/ssl/collector-ca.pem"
			},
			wantErr: true,
		},
		{
			name: "collector CA over TLS",
			modify: func(c *Config) {
				c.Telemetry.MetricsEnabled = true
				c.Telemetry.Insecure = false
				c.Telemetry.CAFile = "/etc/ssl/collector-ca.pem"
			},
			wantErr: false,
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

	if cfg.Dispatcher.MaxAttempts != 3 {
		t.Errorf("expected default config, got max attempts %d", cfg.Dispatcher.MaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"
	data := `
dispatcher:
  max_attempts: 5
  retry_delay: 2s
producers:
  - name: eu
    type: amqp
    url: amqp://guest:guest@eu:5672/
    instances: 2
  - name: edge
    type: mqtt
    url: tcp://edge:1883
    qos: 1
`
	if err := os.WriteFile(tmpfile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Dispatcher.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Dispatcher.RetryDelay != 2*time.Second {
		t.Errorf("expected retry delay 2s, got %v", cfg.Dispatcher.RetryDelay)
	}
	// Unset keys keep their defaults.
	if cfg.Dispatcher.InactivityResetDelay != time.Minute {
		t.Errorf("expected inactivity reset delay 1m, got %v", cfg.Dispatcher.InactivityResetDelay)
	}
	if len(cfg.Producers) != 2 {
		t.Fatalf("expected 2 producers, got %d", len(cfg.Producers))
	}
	if cfg.Producers[0].Instances != 2 || cfg.Producers[1].Type != ProducerMQTT {
		t.Errorf("unexpected producers: %+v", cfg.Producers)
	}
}

func TestLoadInvalid(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(tmpfile, []byte("dispatcher:\n  max_attempts: -2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(tmpfile); err == nil {
		t.Error("Load() should reject an invalid configuration")
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	// Create custom config
	cfg := Default()
	cfg.Dispatcher.RetryDelay = 30 * time.Second
	cfg.Breaker.Enabled = true
	cfg.Log.Level = "debug"

	// Save
	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Load
	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify
	if loaded.Dispatcher.RetryDelay != 30*time.Second {
		t.Errorf("expected retry delay 30s, got %v", loaded.Dispatcher.RetryDelay)
	}
	if !loaded.Breaker.Enabled {
		t.Error("expected breaker enabled")
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}
