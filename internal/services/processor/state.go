package processor

import (
	"time"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
)

// SensorState is the pipeline state of one sensor. It is only touched by
// that sensor's pipeline run and by the watchdog, both under the handle lock.
type SensorState struct {
	sensorID string

	accepted       bool
	lastAcceptedTS float64   // sensor clock, OOO reference
	lastAcceptedAt time.Time // local clock, staleness reference

	medianWindow    *window[float64]
	prevFiltered    float64
	hasPrevFiltered bool
	residualWindow  *window[float64]
	clampEvents     *window[bool]

	noisySince  time.Time // zero when unset
	noisyActive bool
	noiseScore  float64

	isStale    bool
	lastResult *messages.ProcessedResult
}

func newSensorState(sensorID string, cfg PipelineConfig) *SensorState {
	return &SensorState{
		sensorID:       sensorID,
		medianWindow:   newWindow[float64](cfg.MedianWindow),
		residualWindow: newWindow[float64](cfg.ResidualWindow),
		clampEvents:    newWindow[bool](cfg.ClampWindow),
	}
}

func (s *SensorState) clampCount() int {
	n := 0
	for _, c := range s.clampEvents.Values() {
		if c {
			n++
		}
	}
	return n
}

// StateSnapshot is a read-only copy of a sensor's pipeline state.
type StateSnapshot struct {
	SensorID       string                    `json:"sensor_id"`
	Accepted       bool                      `json:"accepted"`
	LastAcceptedTS float64                   `json:"last_accepted_ts"`
	LastAcceptedAt time.Time                 `json:"last_accepted_at"`
	MedianWindow   []float64                 `json:"median_window"`
	PrevFiltered   *float64                  `json:"prev_filtered,omitempty"`
	ResidualWindow []float64                 `json:"residual_window"`
	ClampEvents    []bool                    `json:"clamp_events"`
	ClampCount     int                       `json:"clamp_count"`
	NoisySince     *time.Time                `json:"noisy_since,omitempty"`
	NoisyActive    bool                      `json:"noisy_active"`
	NoiseScore     float64                   `json:"noise_score"`
	IsStale        bool                      `json:"is_stale"`
	LastResult     *messages.ProcessedResult `json:"last_result,omitempty"`
}

func (s *SensorState) snapshot() StateSnapshot {
	snap := StateSnapshot{
		SensorID:       s.sensorID,
		Accepted:       s.accepted,
		LastAcceptedTS: s.lastAcceptedTS,
		LastAcceptedAt: s.lastAcceptedAt,
		MedianWindow:   s.medianWindow.Values(),
		ResidualWindow: s.residualWindow.Values(),
		ClampEvents:    s.clampEvents.Values(),
		ClampCount:     s.clampCount(),
		NoisyActive:    s.noisyActive,
		NoiseScore:     s.noiseScore,
		IsStale:        s.isStale,
	}
	if s.hasPrevFiltered {
		v := s.prevFiltered
		snap.PrevFiltered = &v
	}
	if !s.noisySince.IsZero() {
		t := s.noisySince
		snap.NoisySince = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		r.Health = append(r.Health[:0:0], s.lastResult.Health...)
		snap.LastResult = &r
	}
	return snap
}
