package rabbitmq

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the configured timeout.
var ErrPublishTimeout = errors.New("publish timed out")

// IPublisher publishes payloads to MQTT topics.
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishTo(topic string, qos byte, retained bool, message interface{}) error
	Close()
}

type PublisherConfig struct {
	// Timeout bounds how long one publish waits for the broker.
	Timeout time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerOpenFor.
	BreakerFailures int
	BreakerOpenFor  time.Duration
}

// Publisher publishes through a shared client. A circuit breaker keeps
// callers from queueing behind a dead broker.
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	closeOnce sync.Once
}

// NewPublisher creates a publisher whose PublishMessage goes to topic.
func NewPublisher(client mqtt.Client, topic string, cfg PublisherConfig, log *logger.Logger) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 10 * time.Second
	}
	fails := uint32(cfg.BreakerFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Publisher{
		client:  client,
		topic:   topic,
		timeout: cfg.Timeout,
		breaker: breaker,
		log:     log,
	}
}

// PublishMessage publishes to the publisher's default topic at QoS 0.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishTo(p.topic, 0, false, message)
}

// PublishTo publishes a string or []byte payload on topic.
func (p *Publisher) PublishTo(topic string, qos byte, retained bool, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		return fmt.Errorf("invalid message format %T, expected string or []byte", message)
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		if !p.client.IsConnectionOpen() {
			return nil, fmt.Errorf("publish %s: not connected", topic)
		}
		token := p.client.Publish(topic, qos, retained, payload)
		if !token.WaitTimeout(p.timeout) {
			return nil, fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
		}
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil, nil
	})
	return err
}

// BreakerState exposes the breaker state for health reporting.
func (p *Publisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Close disconnects the shared client once.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.client.IsConnected() {
			p.client.Disconnect(250)
			p.log.Infow("mqtt client disconnected")
		}
	})
}
