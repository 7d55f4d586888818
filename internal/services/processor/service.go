package processor

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/dedup"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
	"github.com/LeonardoBeccarini/soil_processor/pkg/rabbitmq"
)

type WorkersConfig struct {
	Count     int `mapstructure:"count"` // 0 means runtime.NumCPU()
	QueueSize int `mapstructure:"queue_size"`
}

type DedupConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxKeys int           `mapstructure:"max_keys"`
}

type ServiceConfig struct {
	Topics   TopicsConfig
	Pipeline PipelineConfig
	Watchdog WatchdogConfig
	Workers  WorkersConfig
	Dedup    DedupConfig
}

// ServiceStats are intake counters since start.
type ServiceStats struct {
	Received   uint64 `json:"received"`
	Duplicates uint64 `json:"duplicates"`
	Malformed  uint64 `json:"malformed"`
	OutOfOrder uint64 `json:"out_of_order"`
	Processed  uint64 `json:"processed"`
	Sensors    int    `json:"sensors"`
	Workers    int    `json:"workers"`
	DedupKeys  int    `json:"dedup_keys"`
}

// ProcessorService turns raw readings into processed results and fleet
// summaries.
type ProcessorService struct {
	consumer   rabbitmq.IConsumer
	publisher  *ResultPublisher
	manager    *StateManager
	pipeline   *Pipeline
	watchdog   *Watchdog
	dispatcher *Dispatcher
	deduper    *dedup.Deduper
	rawPrefix  string
	now        func() time.Time
	log        *logger.Logger

	received   atomic.Uint64
	duplicates atomic.Uint64
	malformed  atomic.Uint64
	outOfOrder atomic.Uint64
	processed  atomic.Uint64
}

// NewProcessorService wires the pipeline. points may be nil.
func NewProcessorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, points PointSink, cfg ServiceConfig, log *logger.Logger) *ProcessorService {
	workers := cfg.Workers.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queue := cfg.Workers.QueueSize
	if queue <= 0 {
		queue = 256
	}

	s := &ProcessorService{
		consumer:  consumer,
		publisher: NewResultPublisher(publisher, cfg.Topics, points, log.Named("publisher")),
		manager:   NewStateManager(cfg.Pipeline, log.Named("state")),
		deduper:   dedup.New(cfg.Dedup.TTL, cfg.Dedup.MaxKeys),
		rawPrefix: topicPrefix(cfg.Topics.Raw),
		now:       time.Now,
		log:       log,
	}
	s.pipeline = NewPipeline(s.manager, cfg.Pipeline)
	s.watchdog = NewWatchdog(s.manager, s.publisher, cfg.Watchdog, log.Named("watchdog"))
	s.dispatcher = NewDispatcher(workers, queue, s.process, log.Named("dispatcher"))
	return s
}

func (s *ProcessorService) Manager() *StateManager { return s.manager }
func (s *ProcessorService) Watchdog() *Watchdog     { return s.watchdog }

func (s *ProcessorService) Stats() ServiceStats {
	return ServiceStats{
		Received:   s.received.Load(),
		Duplicates: s.duplicates.Load(),
		Malformed:  s.malformed.Load(),
		OutOfOrder: s.outOfOrder.Load(),
		Processed:  s.processed.Load(),
		Sensors:    s.manager.Len(),
		Workers:    s.dispatcher.Workers(),
		DedupKeys:  s.deduper.Len(),
	}
}

func (s *ProcessorService) messageHandler(_ string, message mqtt.Message) error {
	return s.HandlePayload(message.Topic(), message.Payload())
}

// HandlePayload filters one delivery and queues it for its sensor's worker.
// Duplicates and malformed payloads are dropped here.
func (s *ProcessorService) HandlePayload(topic string, payload []byte) error {
	s.received.Add(1)
	readingsReceived.Inc()

	if !s.deduper.ShouldProcessPayload(payload) {
		s.duplicates.Add(1)
		readingsRejected.WithLabelValues(reasonDuplicate).Inc()
		return nil
	}

	r, err := DecodeRawReading(topic, s.rawPrefix, payload)
	if err != nil {
		s.malformed.Add(1)
		readingsRejected.WithLabelValues(reasonMalformed).Inc()
		s.log.Debugw("dropping reading", "topic", topic, "err", err)
		return err
	}

	if err := s.dispatcher.Submit(r); err != nil {
		readingsRejected.WithLabelValues(reasonShutdown).Inc()
		return err
	}
	return nil
}

// process runs on the sensor's shard worker.
func (s *ProcessorService) process(r messages.RawReading) {
	start := time.Now()
	res, err := s.pipeline.Process(r, s.now())
	pipelineDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrOutOfOrder) {
			s.outOfOrder.Add(1)
			readingsRejected.WithLabelValues(reasonOutOfOrder).Inc()
			s.log.Debugw("out-of-order reading dropped", "sensor_id", r.SensorID, "err", err)
			return
		}
		s.log.Errorw("pipeline error", "sensor_id", r.SensorID, "err", err)
		return
	}
	s.processed.Add(1)
	s.log.Debugw("processed",
		"sensor_id", res.SensorID,
		"raw", res.Raw,
		"filtered", res.Filtered,
		"status", res.Status,
		"health", res.Health,
		"noise", res.NoiseScore,
	)
	s.publisher.PublishResult(res)
}

// Start consumes and runs the watchdog until ctx is cancelled. On the way
// out the consumer unsubscribes first, then queued readings are drained,
// then the publisher is closed.
func (s *ProcessorService) Start(ctx context.Context) error {
	s.consumer.SetHandler(s.messageHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consumer.ConsumeMessage(gctx) })
	g.Go(func() error { return s.watchdog.Run(gctx) })

	s.log.Infow("processor started", "workers", s.dispatcher.Workers())
	err := g.Wait()

	s.dispatcher.Close()
	s.publisher.Close()
	s.log.Infow("processor stopped", "stats", s.Stats())
	return err
}
