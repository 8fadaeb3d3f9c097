// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt publishes fixes as JSON documents to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/logger"
)

const (
	DefaultBroker  = "tcp://localhost:1883"
	DefaultPrefix  = "locsim"
	DefaultTimeout = time.Second * 2

	disconnectQuiesce = 250
)

var (
	ErrNilPublisher   = errors.New("mqtt publisher is required")
	ErrPublishTimeout = errors.New("timed out waiting for mqtt publish")
	ErrConnectTimeout = errors.New("timed out connecting to mqtt broker")
)

// Publisher is the subset of a paho client used by the Sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Config configures the Sink.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
	Retain   bool
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Broker == "" {
		c.Broker = DefaultBroker
	}
	if c.ClientID == "" {
		c.ClientID = "locsim-" + uuid.NewString()
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.QoS > 2 {
		c.QoS = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Sink publishes every fix to "<prefix>/<provider>".
type Sink struct {
	publisher Publisher
	client    paho.Client
	logger    *logger.Logger
	conf      Config
}

// Connect connects to the configured broker and returns a Sink publishing over the new
// connection.
func Connect(conf Config, log *logger.Logger) (*Sink, error) {
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	conf = conf.withDefaults()
	opts := paho.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetConnectTimeout(conf.Timeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", logger.Err(err))
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(conf.Timeout) {
		return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, conf.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %q: %w", conf.Broker, err)
	}
	log.Info("connected to mqtt broker", slog.String("broker", conf.Broker),
		slog.String("client_id", conf.ClientID))

	sink, err := New(client, conf, log)
	if err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, err
	}
	sink.client = client
	return sink, nil
}

// New returns a Sink that publishes via the given Publisher.
func New(publisher Publisher, conf Config, log *logger.Logger) (*Sink, error) {
	if publisher == nil {
		return nil, ErrNilPublisher
	}
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	return &Sink{
		publisher: publisher,
		logger:    log,
		conf:      conf.withDefaults(),
	}, nil
}

// Topic returns the topic fixes of the given provider are published to.
func (s *Sink) Topic(provider fixbus.Provider) string {
	return s.conf.Prefix + "/" + string(provider)
}

// Sink is a fixbus.SinkFunc that publishes the fix and waits for the publish to complete.
func (s *Sink) Sink(fix fixbus.Fix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to encode fix: %w", err)
	}

	topic := s.Topic(fix.Provider)
	token := s.publisher.Publish(topic, s.conf.QoS, s.conf.Retain, payload)
	if !token.WaitTimeout(s.conf.Timeout) {
		return fmt.Errorf("%w on topic %q", ErrPublishTimeout, topic)
	}
	if err = token.Error(); err != nil {
		return fmt.Errorf("failed to publish fix on topic %q: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker if the Sink owns the connection.
func (s *Sink) Close() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
	s.client = nil
	s.logger.Debug("disconnected from mqtt broker", slog.String("broker", s.conf.Broker))
}
