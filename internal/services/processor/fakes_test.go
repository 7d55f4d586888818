package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/LeonardoBeccarini/soil_processor/pkg/rabbitmq"
)

type published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []published
	fail   error
	closed bool
}

func (f *fakePublisher) PublishMessage(message interface{}) error {
	return f.PublishTo("default", 0, false, message)
}

func (f *fakePublisher) PublishTo(topic string, qos byte, _ bool, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	b, ok := message.([]byte)
	if !ok {
		return errors.New("fake publisher wants []byte")
	}
	f.msgs = append(f.msgs, published{Topic: topic, QoS: qos, Payload: b})
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func (f *fakePublisher) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConsumer struct {
	mu         sync.Mutex
	handler    rabbitmq.MessageHandler
	subscribed chan struct{}
	err        error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{subscribed: make(chan struct{})}
}

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	close(f.subscribed)
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) SetHandler(h rabbitmq.MessageHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeConsumer) Subscribed() <-chan struct{} { return f.subscribed }

type fakeConn struct{ up bool }

func (f fakeConn) IsConnectionOpen() bool { return f.up }
