package normalize

// firstWins keeps the first value added per key, in insertion order.
type firstWins[K comparable, V any] struct {
	index map[K]int
	items []V
}

func newFirstWins[K comparable, V any]() *firstWins[K, V] {
	return &firstWins[K, V]{index: make(map[K]int)}
}

func (d *firstWins[K, V]) add(key K, v V) {
	if _, ok := d.index[key]; ok {
		return
	}
	d.index[key] = len(d.items)
	d.items = append(d.items, v)
}

func (d *firstWins[K, V]) values() []V {
	return d.items
}

// lastWins keeps the last value added per key at the position of its first
// occurrence.
type lastWins[K comparable, V any] struct {
	index map[K]int
	items []V
}

func newLastWins[K comparable, V any]() *lastWins[K, V] {
	return &lastWins[K, V]{index: make(map[K]int)}
}

func (d *lastWins[K, V]) add(key K, v V) {
	if i, ok := d.index[key]; ok {
		d.items[i] = v
		return
	}
	d.index[key] = len(d.items)
	d.items = append(d.items, v)
}

func (d *lastWins[K, V]) values() []V {
	return d.items
}

// DedupFirst returns items with later duplicates (by key) removed.
func DedupFirst[T any, K comparable](items []T, key func(T) K) []T {
	d := newFirstWins[K, T]()
	for _, it := range items {
		d.add(key(it), it)
	}
	return d.values()
}

// DedupLast returns items with one entry per key holding the last value seen.
func DedupLast[T any, K comparable](items []T, key func(T) K) []T {
	d := newLastWins[K, T]()
	for _, it := range items {
		d.add(key(it), it)
	}
	return d.values()
}
