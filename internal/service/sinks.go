// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/logger"
	"github.com/wneessen/locsim/internal/sink/gpsd"
	"github.com/wneessen/locsim/internal/sink/mqtt"
	"github.com/wneessen/locsim/internal/sink/nmea"
	"github.com/wneessen/locsim/internal/sink/websocket"
)

const (
	sinkGPSD        = "gpsd"
	sinkNMEA        = "nmea"
	sinkMQTTPrecise = "mqtt-precise"
	sinkMQTTCoarse  = "mqtt-coarse"
)

// attachSinks subscribes all enabled sinks to the engine and starts the control server.
// Sinks are released when the engine stops.
func (s *Service) attachSinks(ctx context.Context) error {
	if s.config.Sinks.GPSD.Enable {
		if err := s.attachGPSD(ctx); err != nil {
			return err
		}
	}
	if s.config.Sinks.NMEA.Enable {
		if err := s.attachNMEA(); err != nil {
			return err
		}
	}
	if s.config.Sinks.MQTT.Enable {
		if err := s.attachMQTT(); err != nil {
			return err
		}
	}
	if !s.config.Sinks.Control.Disable {
		if err := s.startControl(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) attachGPSD(ctx context.Context) error {
	server, err := gpsd.Listen(s.config.Sinks.GPSD.Addr, s.logger)
	if err != nil {
		return fmt.Errorf("failed to start gpsd server: %w", err)
	}
	s.wg.Go(func() {
		if err := server.Serve(ctx); err != nil {
			s.logger.Error("gpsd server failed", logger.Err(err))
		}
	})
	release := func() {
		if err := server.Close(); err != nil {
			s.logger.Error("failed to close gpsd server", logger.Err(err))
		}
	}
	if err = s.engine.Subscribe(sinkGPSD, server.Sink, fixbus.WithRelease(release)); err != nil {
		release()
		return fmt.Errorf("failed to subscribe gpsd sink: %w", err)
	}
	s.logger.Info("gpsd sink attached", slog.String("addr", server.Addr().String()))
	return nil
}

func (s *Service) attachNMEA() error {
	writer, err := s.openNMEA()
	if err != nil {
		return err
	}
	release := func() {
		if err := writer.Close(); err != nil {
			s.logger.Error("failed to close nmea output", logger.Err(err))
		}
	}
	if err = s.engine.Subscribe(sinkNMEA, writer.Sink, fixbus.WithRelease(release)); err != nil {
		release()
		return fmt.Errorf("failed to subscribe nmea sink: %w", err)
	}
	s.logger.Info("nmea sink attached", slog.String("serial", s.config.Sinks.NMEA.Serial),
		slog.String("file", s.config.Sinks.NMEA.File))
	return nil
}

// openNMEA opens the configured serial port, or appends to the configured file if no serial
// port is set.
func (s *Service) openNMEA() (*nmea.Writer, error) {
	conf := s.config.Sinks.NMEA
	if conf.Serial != "" {
		return nmea.OpenSerial(conf.Serial, conf.BaudRate)
	}
	file, err := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open nmea output file: %w", err)
	}
	return nmea.NewWriter(file)
}

func (s *Service) attachMQTT() error {
	conf := s.config.Sinks.MQTT
	sink, err := mqtt.Connect(mqtt.Config{
		Broker:   conf.Broker,
		ClientID: conf.ClientID,
		Username: conf.Username,
		Password: conf.Password,
		Prefix:   conf.Prefix,
		QoS:      byte(conf.QoS), //nolint:gosec
		Retain:   conf.Retain,
		Timeout:  conf.Timeout,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect mqtt sink: %w", err)
	}
	return s.subscribeBoth(sinkMQTTPrecise, sinkMQTTCoarse, sink.Sink, sink.Close)
}

// subscribeBoth subscribes the sink function for precise and coarse fixes. The release
// function runs once, when the first of both subscriptions is removed.
func (s *Service) subscribeBoth(preciseID, coarseID string, fn fixbus.SinkFunc, release func()) error {
	release = sync.OnceFunc(release)
	if err := s.engine.Subscribe(preciseID, fn, fixbus.WithProvider(fixbus.ProviderPrecise),
		fixbus.WithRelease(release)); err != nil {
		release()
		return fmt.Errorf("failed to subscribe %s: %w", preciseID, err)
	}
	if err := s.engine.Subscribe(coarseID, fn, fixbus.WithProvider(fixbus.ProviderCoarse),
		fixbus.WithRelease(release)); err != nil {
		s.engine.Unsubscribe(preciseID)
		return fmt.Errorf("failed to subscribe %s: %w", coarseID, err)
	}
	return nil
}

func (s *Service) startControl(ctx context.Context) error {
	conf := s.config.Sinks.Control
	opts := []websocket.Option{websocket.WithAllowedOrigins(conf.Origins...)}
	if !conf.DisableMetrics {
		opts = append(opts, websocket.WithMetricsHandler(s.metrics.Handler()))
	}
	server, err := websocket.New(s.engine, s.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create control server: %w", err)
	}
	listener, err := net.Listen("tcp", conf.Addr)
	if err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	s.wg.Go(func() {
		if err := server.Serve(ctx, listener); err != nil {
			s.logger.Error("control server failed", logger.Err(err))
		}
	})
	return nil
}
