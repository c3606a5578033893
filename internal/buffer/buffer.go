// Package buffer implements the bounded per-interval kline ring described in
// SPEC_FULL.md §4.A: a strictly-increasing-open_time sequence with
// append-or-replace-last semantics and a lazy last-closed(n) view.
//
// Grounded on rustyeddy-trader's market/candle_set.go shape (an ordered,
// capacity-bounded candle collection); the teacher ships no equivalent.
package buffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c0herence/papertrade/internal/types"
)

// Buffer is a bounded ring of bars for a single interval, keyed by
// open_time. Safe for concurrent readers while a single writer calls
// AppendOrReplaceLast.
type Buffer struct {
	mu       sync.RWMutex
	interval string
	capacity int
	bars     []types.Bar // ascending open_time; index 0 is oldest
}

// New creates a Buffer for interval with the given capacity. Capacity should
// be computed by the caller as
// max(bars_required_by_any_indicator * warmup_buffer_mult, configured_max).
func New(interval string, capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		interval: interval,
		capacity: capacity,
		bars:     make([]types.Bar, 0, capacity),
	}
}

// ErrOutOfOrder is returned when a bar's open_time does not exceed the
// current tail's open_time and does not match it either.
type ErrOutOfOrder struct {
	Interval        string
	TailOpenTimeMs  int64
	GivenOpenTimeMs int64
}

func (e *ErrOutOfOrder) Error() string {
	return fmt.Sprintf("buffer[%s]: out-of-order bar open_time=%d behind tail open_time=%d",
		e.Interval, e.GivenOpenTimeMs, e.TailOpenTimeMs)
}

// AppendOrReplaceLast implements spec.md §4.A: replace the tail if
// bar.open_time == tail.open_time, append (evicting from the head on
// overflow) if bar.open_time > tail.open_time, else reject.
func (b *Buffer) AppendOrReplaceLast(bar types.Bar) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bars) == 0 {
		b.bars = append(b.bars, bar)
		return nil
	}

	tail := &b.bars[len(b.bars)-1]
	switch {
	case bar.OpenTimeMs == tail.OpenTimeMs:
		b.bars[len(b.bars)-1] = bar
		return nil
	case bar.OpenTimeMs > tail.OpenTimeMs:
		// Only the tail may be open (closed=false); everything before it
		// must already be closed per the invariant in spec.md §4.A.
		tail.Closed = true
		b.bars = append(b.bars, bar)
		if len(b.bars) > b.capacity {
			b.bars = b.bars[len(b.bars)-b.capacity:]
		}
		return nil
	default:
		return &ErrOutOfOrder{Interval: b.interval, TailOpenTimeMs: tail.OpenTimeMs, GivenOpenTimeMs: bar.OpenTimeMs}
	}
}

// LastClosed returns up to the last n bars with Closed=true, oldest first.
// The returned slice is a copy and safe to retain.
func (b *Buffer) LastClosed(n int) []types.Bar {
	b.mu.RLock()
	defer b.mu.RUnlock()

	closed := b.bars
	if len(closed) > 0 && !closed[len(closed)-1].Closed {
		closed = closed[:len(closed)-1]
	}
	if n <= 0 || n >= len(closed) {
		out := make([]types.Bar, len(closed))
		copy(out, closed)
		return out
	}
	out := make([]types.Bar, n)
	copy(out, closed[len(closed)-n:])
	return out
}

// Tail returns the most recent bar (open or closed) and whether the buffer
// is non-empty.
func (b *Buffer) Tail() (types.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return types.Bar{}, false
	}
	return b.bars[len(b.bars)-1], true
}

// Get looks up a bar by open_time via binary search; O(log n).
func (b *Buffer) Get(openTimeMs int64) (types.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.bars), func(i int) bool { return b.bars[i].OpenTimeMs >= openTimeMs })
	if i < len(b.bars) && b.bars[i].OpenTimeMs == openTimeMs {
		return b.bars[i], true
	}
	return types.Bar{}, false
}

// Len returns the number of bars currently held (open + closed).
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars)
}
