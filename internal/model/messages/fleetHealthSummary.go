package messages

import (
	"time"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/entities"
)

// FleetHealthSummary is rebuilt from scratch every summary period.
// Each sensor is counted in exactly one category, in priority
// STALE > NOISY > SPIKY > OK.
type FleetHealthSummary struct {
	SensorCount   int                         `json:"sensor_count"`
	Counts        map[entities.HealthFlag]int `json:"counts"`
	AvgNoiseScore float64                     `json:"avg_noise_score"`
	Timestamp     time.Time                   `json:"timestamp"`
}
