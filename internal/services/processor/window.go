package processor

// window is a fixed-capacity FIFO; pushing past capacity evicts the oldest entry.
type window[T any] struct {
	buf   []T
	start int
	n     int
}

func newWindow[T any](capacity int) *window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &window[T]{buf: make([]T, capacity)}
}

func (w *window[T]) Push(v T) {
	c := len(w.buf)
	if w.n < c {
		w.buf[(w.start+w.n)%c] = v
		w.n++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % c
}

func (w *window[T]) Len() int { return w.n }

func (w *window[T]) Cap() int { return len(w.buf) }

// Values returns a copy, oldest first.
func (w *window[T]) Values() []T {
	out := make([]T, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}
