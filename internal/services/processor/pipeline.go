package processor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
)

// ErrOutOfOrder marks a reading older than the accepted stream by more than the slack.
var ErrOutOfOrder = errors.New("reading out of order")

// PipelineConfig holds the conditioning constants.
type PipelineConfig struct {
	MedianWindow   int     `mapstructure:"median_window"`
	ResidualWindow int     `mapstructure:"residual_window"`
	ClampWindow    int     `mapstructure:"clamp_window"`
	EMAAlpha       float64 `mapstructure:"ema_alpha"`
	MaxJump        float64 `mapstructure:"max_jump"`
	OOOSlack       float64 `mapstructure:"ooo_slack_s"` // seconds, sensor clock

	NoisyVarianceThreshold float64       `mapstructure:"noisy_variance_threshold"`
	NoisyPersist           time.Duration `mapstructure:"noisy_persist"`
	// NoiseVarianceMax is the residual variance that maps to noise score 1.
	NoiseVarianceMax float64 `mapstructure:"noise_variance_max"`
	MinResiduals     int     `mapstructure:"min_residuals"`

	Thresholds Thresholds `mapstructure:"thresholds"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MedianWindow:           7,
		ResidualWindow:         20,
		ClampWindow:            30,
		EMAAlpha:               0.20,
		MaxJump:                80,
		OOOSlack:               1.0,
		NoisyVarianceThreshold: 60,
		NoisyPersist:           3 * time.Second,
		NoiseVarianceMax:       500,
		MinResiduals:           3,
		Thresholds:             DefaultThresholds(),
	}
}

func (c PipelineConfig) Validate() error {
	switch {
	case c.MedianWindow < 1, c.ResidualWindow < 1, c.ClampWindow < 1:
		return fmt.Errorf("pipeline windows must be >= 1")
	case c.EMAAlpha <= 0 || c.EMAAlpha > 1:
		return fmt.Errorf("pipeline ema_alpha must be in (0,1], got %v", c.EMAAlpha)
	case c.MaxJump <= 0:
		return fmt.Errorf("pipeline max_jump must be > 0")
	case c.OOOSlack < 0:
		return fmt.Errorf("pipeline ooo_slack_s must be >= 0")
	case c.NoiseVarianceMax <= 0:
		return fmt.Errorf("pipeline noise_variance_max must be > 0")
	case c.MinResiduals < 2:
		return fmt.Errorf("pipeline min_residuals must be >= 2")
	}
	return c.Thresholds.Validate()
}

// Conditioned carries every intermediate value of one pipeline pass.
type Conditioned struct {
	Raw         float64
	Median      float64
	Candidate   float64
	Clamped     bool
	Filtered    float64
	Residual    float64
	Variance    float64
	NoiseScore  float64
	NoisyActive bool
}

// Conditioner applies the filter stack to a sensor state.
type Conditioner struct {
	cfg PipelineConfig
}

func NewConditioner(cfg PipelineConfig) *Conditioner {
	return &Conditioner{cfg: cfg}
}

// Accepts reports whether ts passes the out-of-order guard.
func (c *Conditioner) Accepts(st *SensorState, ts float64) bool {
	return !st.accepted || ts >= st.lastAcceptedTS-c.cfg.OOOSlack
}

// Apply runs guard, median, clamp, EMA and residual scoring in that order.
// A rejected reading returns ErrOutOfOrder and leaves st untouched.
func (c *Conditioner) Apply(st *SensorState, r messages.RawReading, now time.Time) (Conditioned, error) {
	if !c.Accepts(st, r.Timestamp) {
		return Conditioned{}, fmt.Errorf("%w: ts=%.3f last=%.3f", ErrOutOfOrder, r.Timestamp, st.lastAcceptedTS)
	}
	if !st.accepted || r.Timestamp > st.lastAcceptedTS {
		st.lastAcceptedTS = r.Timestamp
	}
	st.accepted = true
	st.lastAcceptedAt = now

	out := Conditioned{Raw: r.MoistureRaw}

	st.medianWindow.Push(r.MoistureRaw)
	out.Median = median(st.medianWindow.Values())

	out.Candidate = out.Median
	if st.hasPrevFiltered && math.Abs(out.Candidate-st.prevFiltered) > c.cfg.MaxJump {
		out.Candidate = st.prevFiltered + math.Copysign(c.cfg.MaxJump, out.Candidate-st.prevFiltered)
		out.Clamped = true
	}
	st.clampEvents.Push(out.Clamped)

	if st.hasPrevFiltered {
		out.Filtered = c.cfg.EMAAlpha*out.Candidate + (1-c.cfg.EMAAlpha)*st.prevFiltered
	} else {
		out.Filtered = out.Candidate
	}
	st.prevFiltered = out.Filtered
	st.hasPrevFiltered = true

	out.Residual = r.MoistureRaw - out.Filtered
	st.residualWindow.Push(out.Residual)
	if st.residualWindow.Len() >= c.cfg.MinResiduals {
		out.Variance = sampleVariance(st.residualWindow.Values())
	}
	out.NoiseScore = math.Min(out.Variance/c.cfg.NoiseVarianceMax, 1)
	st.noiseScore = out.NoiseScore

	if out.Variance > c.cfg.NoisyVarianceThreshold {
		if st.noisySince.IsZero() {
			st.noisySince = now
		}
		st.noisyActive = now.Sub(st.noisySince) > c.cfg.NoisyPersist
	} else {
		st.noisySince = time.Time{}
		st.noisyActive = false
	}
	out.NoisyActive = st.noisyActive

	return out, nil
}

func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sampleVariance uses the n-1 denominator.
func sampleVariance(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(n)
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Pipeline ties state lookup, conditioning and classification together for
// one accepted reading.
type Pipeline struct {
	manager     *StateManager
	conditioner *Conditioner
	thresholds  Thresholds
}

func NewPipeline(manager *StateManager, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		manager:     manager,
		conditioner: NewConditioner(cfg),
		thresholds:  cfg.Thresholds,
	}
}

// Process runs one reading through its sensor's pipeline under the sensor
// lock. Out-of-order readings return ErrOutOfOrder and produce no result.
func (p *Pipeline) Process(r messages.RawReading, now time.Time) (messages.ProcessedResult, error) {
	h := p.manager.GetOrCreate(r.SensorID)

	var (
		res messages.ProcessedResult
		err error
	)
	h.With(func(st *SensorState) {
		var c Conditioned
		c, err = p.conditioner.Apply(st, r, now)
		if err != nil {
			return
		}
		st.isStale = false

		cls := Classify(ClassifierInput{
			Filtered:    c.Filtered,
			NoiseScore:  c.NoiseScore,
			ClampEvents: st.clampEvents.Values(),
			NoisyActive: c.NoisyActive,
			IsStale:     st.isStale,
		}, p.thresholds)

		res = messages.ProcessedResult{
			SensorID:   r.SensorID,
			Timestamp:  r.Timestamp,
			Raw:        r.MoistureRaw,
			Median:     roundTo(c.Median, 2),
			Filtered:   roundTo(c.Filtered, 2),
			Status:     cls.Status,
			Health:     cls.Health,
			NoiseScore: roundTo(c.NoiseScore, 3),
		}
		last := res
		last.Health = append(res.Health[:0:0], res.Health...)
		st.lastResult = &last
	})
	if err != nil {
		h.oooDropped.Add(1)
		return messages.ProcessedResult{}, err
	}
	h.received.Add(1)
	return res, nil
}
