package processor

import (
	"fmt"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/entities"
)

// Thresholds are the fixed classification rules. Boundary values belong to OK.
type Thresholds struct {
	DryBelow        float64 `mapstructure:"dry_below"`
	OverwaterAbove  float64 `mapstructure:"overwater_above"`
	SpikyClampCount int     `mapstructure:"spiky_clamp_count"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{DryBelow: 350, OverwaterAbove: 650, SpikyClampCount: 3}
}

func (t Thresholds) Validate() error {
	if t.DryBelow > t.OverwaterAbove {
		return fmt.Errorf("thresholds: dry_below %v above overwater_above %v", t.DryBelow, t.OverwaterAbove)
	}
	if t.SpikyClampCount < 1 {
		return fmt.Errorf("thresholds: spiky_clamp_count must be >= 1")
	}
	return nil
}

type ClassifierInput struct {
	Filtered    float64
	NoiseScore  float64
	ClampEvents []bool
	NoisyActive bool
	IsStale     bool
}

type Classification struct {
	Status entities.MoistureStatus
	Health []entities.HealthFlag
}

// Classify maps pipeline signals to a moisture status and health flags.
// Health is never empty: {OK} when no anomaly applies.
func Classify(in ClassifierInput, t Thresholds) Classification {
	var out Classification
	switch {
	case in.Filtered < t.DryBelow:
		out.Status = entities.StatusDry
	case in.Filtered > t.OverwaterAbove:
		out.Status = entities.StatusOverwater
	default:
		out.Status = entities.StatusOK
	}

	clamps := 0
	for _, c := range in.ClampEvents {
		if c {
			clamps++
		}
	}

	if in.NoisyActive {
		out.Health = append(out.Health, entities.HealthNoisy)
	}
	if clamps >= t.SpikyClampCount {
		out.Health = append(out.Health, entities.HealthSpiky)
	}
	if in.IsStale {
		out.Health = append(out.Health, entities.HealthStale)
	}
	if len(out.Health) == 0 {
		out.Health = []entities.HealthFlag{entities.HealthOK}
	}
	return out
}
