// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the matrixctl daemon configuration.
//
// Values are resolved in this order, later steps overriding earlier ones:
//  1. Built-in defaults
//  2. The YAML file
//  3. MATRIXCTL_SECTION_KEY environment variables
//
// The result is validated before it is returned.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in device.transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
)

// Config is the root configuration structure.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes the switcher and how to reach it.
type DeviceConfig struct {
	// Name identifies the device in MQTT topics and telemetry tags.
	Name string `yaml:"name"`

	// Model is a built-in model name such as "HDMX-8x4" or "8x4".
	Model string `yaml:"model"`

	// Transport is "tcp", "websocket" or "serial".
	Transport string `yaml:"transport"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// URL is the ws:// or wss:// address of a serial-to-WebSocket bridge.
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	// SerialPort is required by the serial transport. With tcp or
	// websocket it adds a second link and commands go out on both.
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`

	// Timeout bounds connection attempts and reads, in seconds.
	Timeout       int             `yaml:"timeout"`
	ReceiveBuffer int             `yaml:"receive_buffer"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls automatic reconnection of the stream transport.
type ReconnectConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between attempts, in seconds.
	Interval int `yaml:"interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	BatchSize int    `yaml:"batch_size"`
	// FlushInterval is in seconds.
	FlushInterval int `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides and validates the result.
//
// Environment variables follow the pattern MATRIXCTL_SECTION_KEY, for
// example MATRIXCTL_DEVICE_HOST or MATRIXCTL_MQTT_PASSWORD.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:          "matrix",
			Model:         "HDMX-4x2",
			Transport:     TransportTCP,
			Port:          8000,
			Baud:          9600,
			Timeout:       10,
			ReceiveBuffer: 4096,
			Reconnect: ReconnectConfig{
				Enabled:  true,
				Interval: 5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:         1,
			TopicPrefix: "matrixctl",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "matrixctl",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// FromEnv returns the defaults with environment overrides applied. The
// result is not validated, so callers can layer further settings first.
func FromEnv() *Config {
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides applies MATRIXCTL_* environment variables.
func applyEnvOverrides(cfg *Config) {
	// Device
	setString(&cfg.Device.Name, "MATRIXCTL_DEVICE_NAME")
	setString(&cfg.Device.Model, "MATRIXCTL_DEVICE_MODEL")
	setString(&cfg.Device.Transport, "MATRIXCTL_DEVICE_TRANSPORT")
	setString(&cfg.Device.Host, "MATRIXCTL_DEVICE_HOST")
	setInt(&cfg.Device.Port, "MATRIXCTL_DEVICE_PORT")
	setString(&cfg.Device.URL, "MATRIXCTL_DEVICE_URL")
	setString(&cfg.Device.Username, "MATRIXCTL_DEVICE_USERNAME")
	setString(&cfg.Device.Password, "MATRIXCTL_DEVICE_PASSWORD")
	setString(&cfg.Device.SerialPort, "MATRIXCTL_DEVICE_SERIAL_PORT")
	setInt(&cfg.Device.Baud, "MATRIXCTL_DEVICE_BAUD")

	// MQTT
	setString(&cfg.MQTT.Broker.Host, "MATRIXCTL_MQTT_HOST")
	setInt(&cfg.MQTT.Broker.Port, "MATRIXCTL_MQTT_PORT")
	setString(&cfg.MQTT.Auth.Username, "MATRIXCTL_MQTT_USERNAME")
	setString(&cfg.MQTT.Auth.Password, "MATRIXCTL_MQTT_PASSWORD")

	// InfluxDB
	setString(&cfg.InfluxDB.URL, "MATRIXCTL_INFLUXDB_URL")
	setString(&cfg.InfluxDB.Token, "MATRIXCTL_INFLUXDB_TOKEN")

	// Logging
	setString(&cfg.Logging.Level, "MATRIXCTL_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt ignores values that are not integers; Validate reports the
// resulting configuration instead.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}
	if c.Device.Model == "" {
		errs = append(errs, "device.model is required")
	}
	switch c.Device.Transport {
	case TransportTCP:
		if c.Device.Host == "" {
			errs = append(errs, "device.host is required for tcp transport")
		}
		if c.Device.Port < 1 || c.Device.Port > 65535 {
			errs = append(errs, "device.port must be between 1 and 65535")
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Device.URL, "ws://") && !strings.HasPrefix(c.Device.URL, "wss://") {
			errs = append(errs, "device.url must start with ws:// or wss://")
		}
	case TransportSerial:
		if c.Device.SerialPort == "" {
			errs = append(errs, "device.serial_port is required for serial transport")
		}
		if c.Device.Baud <= 0 {
			errs = append(errs, "device.baud must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("device.transport must be tcp, websocket or serial, got %q", c.Device.Transport))
	}
	if c.Device.Timeout < 1 {
		errs = append(errs, "device.timeout must be at least 1 second")
	}
	if c.Device.Reconnect.Enabled && c.Device.Reconnect.Interval < 1 {
		errs = append(errs, "device.reconnect.interval must be at least 1 second")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceTimeout returns device.timeout as a Duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Device.Timeout) * time.Second
}

// ReconnectInterval returns device.reconnect.interval as a Duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Device.Reconnect.Interval) * time.Second
}

// FlushInterval returns influxdb.flush_interval as a Duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
