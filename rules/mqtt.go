package rules

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/cronrule/config"
)

const defaultConnectTimeout = 30 * time.Second

// MQTTPublisher publishes rule events to a broker.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	retain bool
	logger zerolog.Logger
}

func clientOptions(cfg config.MQTTConfig, logger zerolog.Logger) (*mqtt.ClientOptions, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: qos %d out of range 0 to 2", cfg.QoS)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	timeout := cfg.ConnectTimeout.Duration
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})
	return opts, nil
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.MQTTConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	logger = logger.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()
	opts, err := clientOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}
	logger.Info().Msg("mqtt: connected")
	return &MQTTPublisher{client: client, qos: cfg.QoS, retain: cfg.Retain, logger: logger}, nil
}

// Publish sends msg and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	token := p.client.Publish(msg.Topic, p.qos, p.retain, msg.Payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Disconnect(250)
	return nil
}
