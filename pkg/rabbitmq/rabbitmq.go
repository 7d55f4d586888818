package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	// ConnectRetries bounds the initial connection attempts; after the first
	// successful connect paho reconnects on its own.
	ConnectRetries int
	ConnectMaxWait time.Duration
}

func (c *RabbitMQConfig) withDefaults() RabbitMQConfig {
	out := *c
	if out.Port == 0 {
		out.Port = 1883
	}
	if out.KeepAlive <= 0 {
		out.KeepAlive = 30 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 5 * time.Second
	}
	if out.MaxReconnectInterval <= 0 {
		out.MaxReconnectInterval = 10 * time.Second
	}
	if out.ConnectRetries <= 0 {
		out.ConnectRetries = 5
	}
	if out.ConnectMaxWait <= 0 {
		out.ConnectMaxWait = 30 * time.Second
	}
	return out
}

// Conn is an mqtt.Client that remembers its subscriptions and restores them
// after paho reconnects with a clean session.
type Conn struct {
	mqtt.Client

	log  *logger.Logger
	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

func (c *Conn) track(topic string, qos byte, handler mqtt.MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
}

func (c *Conn) untrack(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

func (c *Conn) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()

	for topic, s := range subs {
		token := client.Subscribe(topic, s.qos, s.handler)
		if !token.WaitTimeout(5 * time.Second) {
			c.log.Warnw("resubscribe timed out", "topic", topic)
			continue
		}
		if err := token.Error(); err != nil {
			c.log.Warnw("resubscribe failed", "topic", topic, "err", err)
			continue
		}
		c.log.Infow("resubscribed", "topic", topic)
	}
}

// NewRabbitMQConn connects to the broker, retrying with exponential backoff,
// and keeps the connection alive with paho auto-reconnect until ctx ends.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig, log *logger.Logger) (*Conn, error) {
	c := cfg.withDefaults()
	connAddr := fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)

	conn := &Conn{log: log, subs: make(map[string]subscription)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(c.User)
	opts.SetPassword(c.Password)
	opts.SetClientID(c.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.KeepAlive)
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.MaxReconnectInterval)
	// Deliveries must reach the handler in broker order; per-sensor
	// sequencing downstream starts from that order.
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("mqtt connection lost, reconnecting", "broker", connAddr, "err", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Infow("mqtt reconnecting", "broker", connAddr)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infow("connected to mqtt broker", "broker", connAddr)
		conn.resubscribe(client)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.ConnectMaxWait

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(c.ConnectTimeout) {
			return fmt.Errorf("connect to %s timed out", connAddr)
		}
		if err := token.Error(); err != nil {
			log.Warnw("failed to connect to mqtt broker", "broker", connAddr, "err", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.ConnectRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	conn.Client = client

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(conn, log)
	}()

	return conn, nil
}

func CloseRabbitMQConn(client mqtt.Client, log *logger.Logger) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Infow("mqtt connection closed")
	}
}
