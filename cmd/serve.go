// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/matrixctl/internal/bridge"
	"github.com/Thermoquad/matrixctl/internal/config"
	"github.com/Thermoquad/matrixctl/internal/logging"
	"github.com/Thermoquad/matrixctl/internal/mqtt"
	"github.com/Thermoquad/matrixctl/internal/telemetry"
)

const healthCheckTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MQTT bridge daemon",
	Long: `Connect to the switcher and mirror it onto MQTT until interrupted.

Published (retained):
  {prefix}/{device}/availability      online/offline (last will)
  {prefix}/{device}/status            connection status and model
  {prefix}/{device}/state             full device state as JSON
  {prefix}/{device}/route/video/{n}   input feeding output n
  {prefix}/{device}/route/audio/{n}   audio input feeding output n
  {prefix}/{device}/signal/{n}        signal flag of input n

Commands are accepted as JSON on {prefix}/{device}/command and answered
on {prefix}/{device}/ack.

When influxdb.enabled is set, routing, signal, connection and temperature
events are also written to InfluxDB.

The configuration file defaults to $MATRIXCTL_CONFIG.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		configPath = os.Getenv("MATRIXCTL_CONFIG")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.Default()
	log.Info("starting matrixctl bridge", "version", rootCmd.Version)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" && !cmd.Flags().Changed("log-level") && os.Getenv("MATRIXCTL_LOG_LEVEL") == "" {
		cfg.Logging.Level = "info"
	}
	if !cfg.MQTT.Enabled {
		return errors.New("mqtt.enabled must be set to run the bridge")
	}

	log = logging.New(cfg.Logging, rootCmd.Version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	return serve(ctx, cfg, log)
}

// serve runs the bridge until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	s, err := OpenSession(cfg, log)
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	defer func() {
		log.Info("closing device connection")
		if closeErr := s.Close(); closeErr != nil {
			log.Error("error closing device", "error", closeErr)
		}
	}()
	log.Info("device session opened", "device", cfg.Device.Name, "connection", s.Info)

	// Connect to MQTT broker
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Device.Name)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ID(),
	)

	// Connect to InfluxDB (optional)
	recorder := telemetry.Disabled()
	if cfg.InfluxDB.Enabled {
		recorder, err = telemetry.Connect(cfg.InfluxDB, cfg.Device.Name)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}
	recorder.Attach(s.Client)

	s.Client.OnError(func(err error) {
		log.Warn("device reported malformed response", "error", err)
	})

	b, err := bridge.New(bridge.Options{
		Client: s.Client,
		MQTT:   mqttClient,
		Topics: topics,
		QoS:    byte(cfg.MQTT.QoS),
		Logger: log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		b.Resync()
	})

	// The stream reconnects on its own, so a device that is down at
	// startup is not fatal.
	if err := s.Client.Start(); err != nil {
		return fmt.Errorf("starting device client: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	err = mqttClient.HealthCheck(healthCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}
