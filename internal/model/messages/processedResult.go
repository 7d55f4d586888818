package messages

import "github.com/LeonardoBeccarini/soil_processor/internal/model/entities"

// ProcessedResult is emitted once per accepted raw reading on
// irrigation/processed/{sensor}.
type ProcessedResult struct {
	SensorID   string                  `json:"sensor_id"`
	Timestamp  float64                 `json:"ts"`
	Raw        float64                 `json:"raw"`
	Median     float64                 `json:"median"`
	Filtered   float64                 `json:"filtered"`
	Status     entities.MoistureStatus `json:"status"`
	Health     []entities.HealthFlag   `json:"health"`
	NoiseScore float64                 `json:"noise_score"`
}
