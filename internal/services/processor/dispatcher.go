package processor

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher fans readings out to a fixed set of shard workers. A sensor id
// always maps to the same shard, so one sensor's readings run in arrival
// order while different sensors run in parallel.
type Dispatcher struct {
	shards []chan messages.RawReading
	handle func(messages.RawReading)
	log    *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines, each with a queue of queueSize.
func NewDispatcher(workers, queueSize int, handle func(messages.RawReading), log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		shards: make([]chan messages.RawReading, workers),
		handle: handle,
		log:    log,
	}
	for i := range d.shards {
		ch := make(chan messages.RawReading, queueSize)
		d.shards[i] = ch
		d.wg.Add(1)
		go d.worker(ch)
	}
	return d
}

func (d *Dispatcher) worker(ch <-chan messages.RawReading) {
	defer d.wg.Done()
	for r := range ch {
		d.handle(r)
	}
}

func (d *Dispatcher) shardFor(sensorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sensorID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Submit queues r on its sensor's shard. It blocks while that shard is full.
func (d *Dispatcher) Submit(r messages.RawReading) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.shards[d.shardFor(r.SensorID)] <- r
	return nil
}

// Close stops intake, lets workers drain what is queued and waits for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.log.Infow("dispatcher drained", "workers", len(d.shards))
}

func (d *Dispatcher) Workers() int {
	return len(d.shards)
}
