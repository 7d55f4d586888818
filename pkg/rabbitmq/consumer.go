package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

// MessageHandler processes one delivery. The returned error is only logged:
// the transport is fire-and-forget.
type MessageHandler func(topic string, message mqtt.Message) error

// IConsumer subscribes to topics and feeds deliveries to a handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler MessageHandler)
	Subscribed() <-chan struct{}
}

// Consumer subscribes a shared MQTT client to one or more topic filters.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	log     *logger.Logger
	timeout time.Duration

	mu      sync.RWMutex
	handler MessageHandler

	subscribedOnce sync.Once
	subscribed     chan struct{}
}

// NewConsumer creates a consumer on the shared client. The handler may be nil
// and injected later with SetHandler.
func NewConsumer(client mqtt.Client, topics []string, handler MessageHandler, log *logger.Logger) *Consumer {
	return &Consumer{
		client:     client,
		topics:     topics,
		handler:    handler,
		log:        log,
		timeout:    10 * time.Second,
		subscribed: make(chan struct{}),
	}
}

func (c *Consumer) SetHandler(handler MessageHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Subscribed is closed once every topic filter has been acknowledged.
func (c *Consumer) Subscribed() <-chan struct{} {
	return c.subscribed
}

// qosFor picks the subscription QoS. Raw telemetry is best effort; health
// summaries are requested at least once.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "irrigation/health") {
		return 1
	}
	return 0
}

func (c *Consumer) callback(filter string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h == nil {
			c.log.Warnw("no handler set", "topic", filter)
			return
		}
		if err := h(msg.Topic(), msg); err != nil {
			c.log.Debugw("handler error", "topic", msg.Topic(), "err", err)
		}
	}
}

// ConsumeMessage subscribes every topic and blocks until ctx is cancelled,
// then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	for _, topic := range c.topics {
		qos := qosFor(topic)
		cb := c.callback(topic)
		token := c.client.Subscribe(topic, qos, cb)
		if !token.WaitTimeout(c.timeout) {
			return fmt.Errorf("subscribe %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		if conn, ok := c.client.(*Conn); ok {
			conn.track(topic, qos, cb)
		}
		c.log.Infow("subscribed", "topic", topic, "qos", qos)
	}
	c.subscribedOnce.Do(func() { close(c.subscribed) })

	<-ctx.Done()

	for _, topic := range c.topics {
		if conn, ok := c.client.(*Conn); ok {
			conn.untrack(topic)
		}
		if c.client.IsConnected() {
			c.client.Unsubscribe(topic).WaitTimeout(time.Second)
		}
	}
	return nil
}
