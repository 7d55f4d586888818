package processor

import (
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/entities"
	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

type InfluxConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SummaryWriter writes fleet summaries through the async WriteAPI and keeps
// the time of the last write error for /healthz.
type SummaryWriter struct {
	api api.WriteAPI
	log *logger.Logger

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

func NewSummaryWriter(w api.WriteAPI, log *logger.Logger) *SummaryWriter {
	sw := &SummaryWriter{
		api:     w,
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			sw.mu.Lock()
			sw.lastErr = time.Now()
			sw.mu.Unlock()
			log.Warnw("influx write error", "err", err)
		}
	}()
	return sw
}

func (w *SummaryWriter) WriteSummary(sum messages.FleetHealthSummary) {
	w.api.WritePoint(SummaryToPoint(sum))
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}

// LastErrorAge is how long ago the last write error happened. A nil writer
// reports a very old error.
func (w *SummaryWriter) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

func (w *SummaryWriter) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}

// Flush pushes buffered points out; call before closing the client.
func (w *SummaryWriter) Flush() {
	w.api.Flush()
}

// SummaryToPoint maps a summary to one fleet_health point.
func SummaryToPoint(sum messages.FleetHealthSummary) *write.Point {
	fields := map[string]interface{}{
		"sensor_count":    int64(sum.SensorCount),
		"avg_noise_score": sum.AvgNoiseScore,
	}
	for _, c := range entities.HealthCategories {
		fields["count_"+strings.ToLower(string(c))] = int64(sum.Counts[c])
	}
	return influxdb2.NewPoint("fleet_health", map[string]string{"source": "soil-processor"}, fields, sum.Timestamp)
}
