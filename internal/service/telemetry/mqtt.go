package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/occupancy"
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// MQTTSink publishes occupancy events to an MQTT broker with QoS 0.
type MQTTSink struct {
	client  mqtt.Client
	broker  string
	prefix  string
	timeout time.Duration
	logger  *logger.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// Stats contains sink statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// NewMQTTSink creates a sink for the configured broker. Call Connect before publishing.
func NewMQTTSink(cfg *config.Config, logger *logger.Logger) *MQTTSink {
	s := &MQTTSink{
		broker:    cfg.MQTTBroker(),
		prefix:    cfg.MQTTTopicPrefix,
		timeout:   cfg.PublishTimeout,
		logger:    logger,
		published: make(map[string]uint64),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetKeepAlive(cfg.MQTTKeepAlive)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("MQTT connection established (broker: %s, client_id: %s)", s.broker, cfg.MQTTClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warning("MQTT connection lost, waiting for automatic reconnection: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// NewMQTTSinkWithClient wraps an existing client.
func NewMQTTSinkWithClient(client mqtt.Client, prefix string, timeout time.Duration, logger *logger.Logger) *MQTTSink {
	return &MQTTSink{
		client:    client,
		prefix:    prefix,
		timeout:   timeout,
		logger:    logger,
		published: make(map[string]uint64),
		connected: client.IsConnected(),
	}
}

// Connect establishes the broker connection, bounded by ctx.
func (s *MQTTSink) Connect(ctx context.Context) error {
	s.logger.Info("Connecting to MQTT broker %s", s.broker)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	s.setConnected(true)
	return nil
}

// Publish sends the event payload to its topic. No broker acknowledgement is
// awaited beyond the client accepting the message within the publish timeout.
func (s *MQTTSink) Publish(ctx context.Context, event occupancy.Event) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	payload, err := event.Payload()
	if err != nil {
		s.countError()
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.countError()
			return ErrPublishTimeout
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	topic := s.topic(event)
	token := s.client.Publish(topic, 0, false, payload)
	if timeout > 0 && !token.WaitTimeout(timeout) {
		s.countError()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	s.logger.Debug("Published %s to %s", payload, topic)
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("MQTT disconnected")
	}
	s.setConnected(false)
	return nil
}

// Stats returns sink statistics.
func (s *MQTTSink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{
		Connected: s.connected,
		Published: published,
		Errors:    s.errors,
	}
}

func (s *MQTTSink) topic(event occupancy.Event) string {
	if s.prefix == "" {
		return event.Topic()
	}
	return s.prefix + "/" + event.Topic()
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
