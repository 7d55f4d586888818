package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/entities"
	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

type WatchdogConfig struct {
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		ScanInterval:    time.Second,
		SummaryInterval: 5 * time.Second,
		StaleAfter:      10 * time.Second,
	}
}

func (c WatchdogConfig) Validate() error {
	if c.ScanInterval <= 0 || c.SummaryInterval <= 0 || c.StaleAfter <= 0 {
		return fmt.Errorf("watchdog intervals must be > 0")
	}
	return nil
}

// SummarySink receives every fleet summary the watchdog builds.
type SummarySink interface {
	PublishSummary(summary messages.FleetHealthSummary)
}

// Watchdog flags sensors that went quiet and periodically rebuilds the
// fleet summary. It never touches the filtering windows.
type Watchdog struct {
	manager *StateManager
	sink    SummarySink
	cfg     WatchdogConfig
	now     func() time.Time
	log     *logger.Logger

	mu     sync.RWMutex
	latest *messages.FleetHealthSummary
}

func NewWatchdog(manager *StateManager, sink SummarySink, cfg WatchdogConfig, log *logger.Logger) *Watchdog {
	return &Watchdog{
		manager: manager,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		log:     log,
	}
}

// ScanStale recomputes is_stale for every sensor against now and returns how
// many are stale. Transitions are logged once each way.
func (w *Watchdog) ScanStale(now time.Time) int {
	stale := 0
	w.manager.ForEach(func(id string, st *SensorState) {
		if !st.accepted {
			return
		}
		silent := now.Sub(st.lastAcceptedAt)
		isStale := silent > w.cfg.StaleAfter
		switch {
		case isStale && !st.isStale:
			w.log.Warnw("sensor went stale", "sensor_id", id, "silent_for", silent.Round(time.Millisecond))
		case !isStale && st.isStale:
			w.log.Infow("sensor recovered", "sensor_id", id)
		}
		st.isStale = isStale
		if isStale {
			stale++
		}
	})
	sensorsStale.Set(float64(stale))
	return stale
}

// BuildSummary builds a fleet summary from scratch. Each sensor lands in one
// category, priority STALE > NOISY > SPIKY > OK.
func (w *Watchdog) BuildSummary(now time.Time) messages.FleetHealthSummary {
	sum := messages.FleetHealthSummary{
		Counts:    make(map[entities.HealthFlag]int, len(entities.HealthCategories)),
		Timestamp: now,
	}
	for _, c := range entities.HealthCategories {
		sum.Counts[c] = 0
	}

	var noise float64
	w.manager.ForEach(func(_ string, st *SensorState) {
		if !st.accepted {
			return
		}
		sum.SensorCount++
		noise += st.noiseScore
		sum.Counts[category(st)]++
	})
	if sum.SensorCount > 0 {
		sum.AvgNoiseScore = roundTo(noise/float64(sum.SensorCount), 3)
	}
	return sum
}

func category(st *SensorState) entities.HealthFlag {
	if st.isStale {
		return entities.HealthStale
	}
	if st.lastResult == nil {
		return entities.HealthOK
	}
	switch {
	case entities.HasFlag(st.lastResult.Health, entities.HealthNoisy):
		return entities.HealthNoisy
	case entities.HasFlag(st.lastResult.Health, entities.HealthSpiky):
		return entities.HealthSpiky
	}
	return entities.HealthOK
}

func (w *Watchdog) emitSummary(now time.Time) {
	sum := w.BuildSummary(now)
	for _, c := range entities.HealthCategories {
		fleetHealth.WithLabelValues(string(c)).Set(float64(sum.Counts[c]))
	}
	w.mu.Lock()
	w.latest = &sum
	w.mu.Unlock()
	if w.sink != nil {
		w.sink.PublishSummary(sum)
	}
}

// Latest returns the most recent summary, if one has been built.
func (w *Watchdog) Latest() (messages.FleetHealthSummary, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.latest == nil {
		return messages.FleetHealthSummary{}, false
	}
	return *w.latest, true
}

// Run drives the scan and summary tickers until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	scan := time.NewTicker(w.cfg.ScanInterval)
	defer scan.Stop()
	summary := time.NewTicker(w.cfg.SummaryInterval)
	defer summary.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scan.C:
			w.ScanStale(w.now())
		case <-summary.C:
			now := w.now()
			// summary reads is_stale as of now
			w.ScanStale(now)
			w.emitSummary(now)
		}
	}
}
