package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduper_ShouldProcess(t *testing.T) {
	d := New(time.Minute, 100)

	assert.True(t, d.ShouldProcess("a"), "first sighting is processed")
	assert.False(t, d.ShouldProcess("a"), "repeat within ttl is dropped")
	assert.True(t, d.ShouldProcess("b"))
	assert.True(t, d.ShouldProcess(""), "empty id bypasses dedup")
	assert.True(t, d.ShouldProcess(""))
}

func TestDeduper_Expiry(t *testing.T) {
	d := New(20*time.Millisecond, 100)

	assert.True(t, d.ShouldProcess("a"))
	time.Sleep(40 * time.Millisecond)
	assert.True(t, d.ShouldProcess("a"), "key is forgotten after ttl")
}

func TestDeduper_Payload(t *testing.T) {
	d := New(time.Minute, 100)
	p := []byte(`{"sensor_id":"s1","ts":1,"moisture_raw":500}`)

	assert.True(t, d.ShouldProcessPayload(p))
	assert.False(t, d.ShouldProcessPayload(p))
	assert.True(t, d.ShouldProcessPayload([]byte(`{"sensor_id":"s1","ts":2,"moisture_raw":500}`)))
}

func TestDeduper_ConcurrentSameKey(t *testing.T) {
	d := New(time.Minute, 100)
	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.ShouldProcess("same") {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted, "exactly one caller wins")
}

func TestNew_Defaults(t *testing.T) {
	d := New(0, 0)
	assert.Equal(t, 10*time.Minute, d.ttl)
	assert.Equal(t, 10000, d.max)
}
