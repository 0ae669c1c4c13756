package telemetry

// buffer is a fixed-capacity ring. Push is O(1); when full, the oldest
// element is overwritten. Not safe for concurrent use; the store guards it.
type buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

func newBuffer[T any](capacity int) *buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &buffer[T]{items: make([]T, capacity)}
}

func (b *buffer[T]) push(item T) {
	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = item
	if b.size < len(b.items) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.items)
	}
}

func (b *buffer[T]) len() int { return b.size }

// newestFirst returns a copy of the contents, newest element first.
func (b *buffer[T]) newestFirst() []T {
	out := make([]T, 0, b.size)
	for i := b.size - 1; i >= 0; i-- {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}

// each visits elements oldest first, stopping if fn returns false.
func (b *buffer[T]) each(fn func(item *T) bool) {
	for i := 0; i < b.size; i++ {
		if !fn(&b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}
