package processor

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/entities"
	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
	"github.com/LeonardoBeccarini/soil_processor/pkg/rabbitmq"
)

type TopicsConfig struct {
	Raw       string `mapstructure:"raw"`
	Processed string `mapstructure:"processed"` // {sensor} is replaced by the sensor id
	Summary   string `mapstructure:"summary"`
}

func DefaultTopicsConfig() TopicsConfig {
	return TopicsConfig{
		Raw:       "irrigation/raw/#",
		Processed: "irrigation/processed/{sensor}",
		Summary:   "irrigation/health/summary",
	}
}

// PointSink stores fleet summaries outside the broker.
type PointSink interface {
	WriteSummary(summary messages.FleetHealthSummary)
}

// ResultPublisher emits processed results and fleet summaries. Failures are
// counted and logged, never returned to the pipeline.
type ResultPublisher struct {
	pub    rabbitmq.IPublisher
	topics TopicsConfig
	points PointSink
	log    *logger.Logger
}

// NewResultPublisher builds the output side. points may be nil.
func NewResultPublisher(pub rabbitmq.IPublisher, topics TopicsConfig, points PointSink, log *logger.Logger) *ResultPublisher {
	return &ResultPublisher{pub: pub, topics: topics, points: points, log: log}
}

func (p *ResultPublisher) topicFor(sensorID string) string {
	return strings.NewReplacer("{sensor}", sensorID).Replace(p.topics.Processed)
}

// PublishResult sends one processed result on its sensor's topic.
func (p *ResultPublisher) PublishResult(res messages.ProcessedResult) {
	b, err := json.Marshal(res)
	if err != nil {
		p.log.Errorw("marshal result", "sensor_id", res.SensorID, "err", err)
		return
	}
	topic := p.topicFor(res.SensorID)
	if err := p.pub.PublishTo(topic, 0, false, b); err != nil {
		p.publishFailed(kindResult, topic, err)
		return
	}
	resultsPublished.WithLabelValues(kindResult).Inc()
}

// PublishSummary logs the summary line, publishes it and writes it to the
// point sink when one is configured.
func (p *ResultPublisher) PublishSummary(sum messages.FleetHealthSummary) {
	p.log.Infof("health │ %d sensors │ OK=%d NOISY=%d SPIKY=%d STALE=%d │ avg_noise=%.3f",
		sum.SensorCount,
		sum.Counts[entities.HealthOK],
		sum.Counts[entities.HealthNoisy],
		sum.Counts[entities.HealthSpiky],
		sum.Counts[entities.HealthStale],
		sum.AvgNoiseScore,
	)

	if p.points != nil {
		p.points.WriteSummary(sum)
	}

	b, err := json.Marshal(sum)
	if err != nil {
		p.log.Errorw("marshal summary", "err", err)
		return
	}
	if err := p.pub.PublishTo(p.topics.Summary, 1, false, b); err != nil {
		p.publishFailed(kindSummary, p.topics.Summary, err)
		return
	}
	resultsPublished.WithLabelValues(kindSummary).Inc()
}

func (p *ResultPublisher) publishFailed(kind, topic string, err error) {
	publishErrors.WithLabelValues(kind).Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.log.Debugw("publish dropped, breaker open", "topic", topic)
		return
	}
	p.log.Warnw("publish failed", "topic", topic, "err", err)
}

func (p *ResultPublisher) Close() {
	p.pub.Close()
}
