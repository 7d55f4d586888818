package processor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

// SensorHandle owns one sensor's state and the lock that serializes it.
type SensorHandle struct {
	mu    sync.Mutex
	state *SensorState

	received   atomic.Uint64 // accepted readings only
	oooDropped atomic.Uint64
}

// With runs fn while holding the sensor's lock.
func (h *SensorHandle) With(fn func(st *SensorState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.state)
}

// SensorSnapshot is what the HTTP API reports for one sensor.
type SensorSnapshot struct {
	StateSnapshot
	Received   uint64 `json:"received"`
	OOODropped uint64 `json:"ooo_dropped"`
}

func (h *SensorHandle) Snapshot() SensorSnapshot {
	var snap SensorSnapshot
	h.With(func(st *SensorState) { snap.StateSnapshot = st.snapshot() })
	snap.Received = h.received.Load()
	snap.OOODropped = h.oooDropped.Load()
	return snap
}

// StateManager is the only place sensor state is created. Lookups go through
// a sync.Map so different sensors never contend on a shared lock.
type StateManager struct {
	sensors sync.Map // sensorID -> *SensorHandle
	count   atomic.Int64
	cfg     PipelineConfig
	log     *logger.Logger
}

func NewStateManager(cfg PipelineConfig, log *logger.Logger) *StateManager {
	return &StateManager{cfg: cfg, log: log}
}

// GetOrCreate returns the handle for sensorID, creating empty state on first sighting.
func (m *StateManager) GetOrCreate(sensorID string) *SensorHandle {
	if h, ok := m.sensors.Load(sensorID); ok {
		return h.(*SensorHandle)
	}
	fresh := &SensorHandle{state: newSensorState(sensorID, m.cfg)}
	actual, loaded := m.sensors.LoadOrStore(sensorID, fresh)
	if !loaded {
		n := m.count.Add(1)
		sensorsKnown.Set(float64(n))
		m.log.Infow("new sensor discovered", "sensor_id", sensorID, "known", n)
	}
	return actual.(*SensorHandle)
}

// Get returns the handle for sensorID if it exists.
func (m *StateManager) Get(sensorID string) (*SensorHandle, bool) {
	h, ok := m.sensors.Load(sensorID)
	if !ok {
		return nil, false
	}
	return h.(*SensorHandle), true
}

// ForEach visits every sensor, holding only that sensor's lock during fn.
func (m *StateManager) ForEach(fn func(sensorID string, st *SensorState)) {
	m.sensors.Range(func(k, v any) bool {
		id := k.(string)
		v.(*SensorHandle).With(func(st *SensorState) { fn(id, st) })
		return true
	})
}

func (m *StateManager) Len() int {
	return int(m.count.Load())
}

// Snapshots returns every sensor's snapshot ordered by sensor id.
func (m *StateManager) Snapshots() []SensorSnapshot {
	out := make([]SensorSnapshot, 0, m.Len())
	m.sensors.Range(func(_, v any) bool {
		out = append(out, v.(*SensorHandle).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}
