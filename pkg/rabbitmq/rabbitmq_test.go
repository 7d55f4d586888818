package rabbitmq

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startBroker spins up an in-process MQTT broker that accepts everyone.
func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: "127.0.0.1:" + strconv.Itoa(port),
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })
	return port
}

func connect(t *testing.T, ctx context.Context, port int, clientID string) *Conn {
	t.Helper()
	conn, err := NewRabbitMQConn(ctx, &RabbitMQConfig{
		Host:           "127.0.0.1",
		Port:           port,
		ClientID:       clientID,
		ConnectRetries: 3,
		ConnectMaxWait: 5 * time.Second,
	}, logger.Nop())
	require.NoError(t, err)
	return conn
}

func TestConsumerPublisher_RoundTrip(t *testing.T) {
	port := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subConn := connect(t, ctx, port, "sub")
	pubConn := connect(t, ctx, port, "pub")

	got := make(chan string, 1)
	consumer := NewConsumer(subConn, []string{"irrigation/raw/#"}, nil, logger.Nop())
	consumer.SetHandler(func(topic string, m mqtt.Message) error {
		got <- topic + " " + string(m.Payload())
		return nil
	})
	go func() { _ = consumer.ConsumeMessage(ctx) }()

	select {
	case <-consumer.Subscribed():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	pub := NewPublisher(pubConn, "irrigation/raw/s1", PublisherConfig{}, logger.Nop())
	require.NoError(t, pub.PublishMessage(`{"sensor_id":"s1"}`))

	select {
	case msg := <-got:
		assert.Equal(t, `irrigation/raw/s1 {"sensor_id":"s1"}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	assert.Len(t, subConn.subs, 1, "subscription is tracked for reconnects")
	cancel()
}

func TestConsumer_DeliversInBrokerOrder(t *testing.T) {
	port := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subConn := connect(t, ctx, port, "sub")
	pubConn := connect(t, ctx, port, "pub")

	const n = 1000
	var (
		mu  sync.Mutex
		seq []int
	)
	all := make(chan struct{})
	consumer := NewConsumer(subConn, []string{"irrigation/raw/#"}, func(_ string, m mqtt.Message) error {
		i, err := strconv.Atoi(string(m.Payload()))
		if err != nil {
			return err
		}
		mu.Lock()
		seq = append(seq, i)
		if len(seq) == n {
			close(all)
		}
		mu.Unlock()
		return nil
	}, logger.Nop())
	go func() { _ = consumer.ConsumeMessage(ctx) }()
	<-consumer.Subscribed()

	pub := NewPublisher(pubConn, "irrigation/raw/s1", PublisherConfig{}, logger.Nop())
	for i := 0; i < n; i++ {
		require.NoError(t, pub.PublishTo("irrigation/raw/s1", 1, false, strconv.Itoa(i)))
	}

	select {
	case <-all:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range seq {
		require.Equal(t, i, v, "delivery %d out of order", i)
	}
}

func TestPublisher_RejectsUnknownPayloadType(t *testing.T) {
	port := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(connect(t, ctx, port, "pub"), "t", PublisherConfig{}, logger.Nop())
	err := pub.PublishTo("t", 0, false, 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string or []byte")
}

func TestPublisher_BreakerOpensWhenDisconnected(t *testing.T) {
	port := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := connect(t, ctx, port, "pub")
	pub := NewPublisher(conn, "t", PublisherConfig{BreakerFailures: 2, BreakerOpenFor: time.Minute}, logger.Nop())
	conn.Disconnect(0)

	for i := 0; i < 2; i++ {
		err := pub.PublishMessage("x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
	}
	assert.Equal(t, gobreaker.StateOpen, pub.BreakerState())
	assert.ErrorIs(t, pub.PublishMessage("x"), gobreaker.ErrOpenState)
}

func TestNewRabbitMQConn_GivesUp(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewRabbitMQConn(ctx, &RabbitMQConfig{
		Host:           "127.0.0.1",
		Port:           port,
		ClientID:       "nobody",
		ConnectTimeout: 500 * time.Millisecond,
		ConnectRetries: 1,
		ConnectMaxWait: time.Second,
	}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not establish MQTT connection")
}

func TestQosFor(t *testing.T) {
	assert.Equal(t, byte(0), qosFor("irrigation/raw/#"))
	assert.Equal(t, byte(1), qosFor(" irrigation/health/summary"))
}
