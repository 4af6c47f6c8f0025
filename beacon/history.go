package beacon

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// HistoryStats summarizes the retained readings.
type HistoryStats struct {
	Count  int     `json:"Count"`
	Min    int16   `json:"Min"`
	Max    int16   `json:"Max"`
	Mean   float64 `json:"Mean"`
	Median float64 `json:"Median"`
	StdDev float64 `json:"StdDev"`
}

type readingSample struct {
	at time.Time
	v  int16
}

// History keeps the most recent readings in a bounded ring and computes
// summary statistics over them. Safe for concurrent use: the BLE read
// callback records while the TUI pane and the status endpoint query.
type History struct {
	// Guards samples
	mu       sync.Mutex
	samples  *deque.Deque[readingSample]
	capacity int
}

func NewHistory(capacity int) *History {
	h := &History{
		samples:  new(deque.Deque[readingSample]),
		capacity: capacity,
	}
	h.samples.Grow(capacity)
	return h
}

// Record appends a reading, evicting the oldest when the ring is full.
func (h *History) Record(at time.Time, v int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples.Len() == h.capacity {
		h.samples.PopFront()
	}
	h.samples.PushBack(readingSample{at: at, v: v})
}

// Publish implements Sink: read events are recorded, everything else is
// ignored.
func (h *History) Publish(ev Event) {
	if ev.Kind == EventRead && ev.Reading != nil {
		h.Record(ev.At, *ev.Reading)
	}
}

// Stats computes min/max/mean/median/stddev over the retained readings.
func (h *History) Stats() HistoryStats {
	h.mu.Lock()
	data := make([]int16, h.samples.Len())
	for i := range h.samples.Len() {
		data[i] = h.samples.At(i).v
	}
	h.mu.Unlock()
	return calculateStats(data)
}

func calculateStats(data []int16) HistoryStats {
	if len(data) == 0 {
		return HistoryStats{}
	}

	// Min, Max, Sum
	var sum int
	min, max := data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += int(v)
	}

	// Mean
	mean := float64(sum) / float64(len(data))

	// Median
	sort.Slice(data, func(i, j int) bool { return data[i] < data[j] })
	var median float64
	mid := len(data) / 2
	if len(data)%2 == 0 {
		median = float64(data[mid-1]+data[mid]) / 2.0
	} else {
		median = float64(data[mid])
	}

	// Standard Deviation
	var sumOfSquares float64
	for _, v := range data {
		sumOfSquares += (float64(v) - mean) * (float64(v) - mean)
	}
	stdDev := math.Sqrt(sumOfSquares / float64(len(data)))

	return HistoryStats{
		Count:  len(data),
		Min:    min,
		Max:    max,
		Mean:   mean,
		Median: median,
		StdDev: stdDev,
	}
}
