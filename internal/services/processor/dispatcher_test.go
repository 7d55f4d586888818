package processor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
	"github.com/LeonardoBeccarini/soil_processor/pkg/logger"
)

func TestDispatcher_PerSensorOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]float64{}
	)
	d := NewDispatcher(4, 8, func(r messages.RawReading) {
		mu.Lock()
		seen[r.SensorID] = append(seen[r.SensorID], r.Timestamp)
		mu.Unlock()
	}, logger.Nop())

	const sensors, perSensor = 10, 200
	for i := 0; i < perSensor; i++ {
		for s := 0; s < sensors; s++ {
			require.NoError(t, d.Submit(reading(fmt.Sprintf("s%d", s), float64(i), 500)))
		}
	}
	d.Close()

	require.Len(t, seen, sensors)
	for id, ts := range seen {
		require.Len(t, ts, perSensor, id)
		for i := 1; i < len(ts); i++ {
			assert.Less(t, ts[i-1], ts[i], "sensor %s out of order at %d", id, i)
		}
	}
}

func TestDispatcher_StableShard(t *testing.T) {
	d := NewDispatcher(8, 1, func(messages.RawReading) {}, logger.Nop())
	defer d.Close()
	for _, id := range []string{"a", "sensor-17", "field/3"} {
		first := d.shardFor(id)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, d.shardFor(id))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, d.Workers())
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(2, 1, func(messages.RawReading) {}, logger.Nop())
	d.Close()
	d.Close()
	assert.ErrorIs(t, d.Submit(reading("s1", 1, 1)), ErrDispatcherClosed)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	release := make(chan struct{})
	d := NewDispatcher(1, 64, func(messages.RawReading) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	}, logger.Nop())

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Submit(reading("s1", float64(i), 1)))
	}
	close(release)
	d.Close()
	assert.Equal(t, 50, count)
}

func TestDispatcher_MinimumOneWorker(t *testing.T) {
	d := NewDispatcher(0, 0, func(messages.RawReading) {}, logger.Nop())
	defer d.Close()
	assert.Equal(t, 1, d.Workers())
}
