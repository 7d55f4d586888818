package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_PushAndEvict(t *testing.T) {
	w := newWindow[int](3)
	assert.Empty(t, w.Values())

	w.Push(1)
	w.Push(2)
	assert.Equal(t, []int{1, 2}, w.Values())

	w.Push(3)
	w.Push(4)
	w.Push(5)
	assert.Equal(t, []int{3, 4, 5}, w.Values(), "oldest entries drop first")
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	w := newWindow[bool](30)
	for i := 0; i < 100; i++ {
		w.Push(i%2 == 0)
		assert.LessOrEqual(t, w.Len(), 30)
	}
	assert.Len(t, w.Values(), 30)
}

func TestWindow_ValuesIsACopy(t *testing.T) {
	w := newWindow[float64](2)
	w.Push(1)
	v := w.Values()
	v[0] = 99
	assert.Equal(t, []float64{1}, w.Values())
}

func TestWindow_MinimumCapacity(t *testing.T) {
	w := newWindow[int](0)
	w.Push(7)
	w.Push(8)
	assert.Equal(t, []int{8}, w.Values())
}
