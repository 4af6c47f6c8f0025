package beacon

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryStats(t *testing.T) {
	h := NewHistory(16)
	at := time.Unix(1_700_000_000, 0)
	for _, v := range []int16{10, 30, 20} {
		h.Record(at, v)
		at = at.Add(time.Second)
	}

	stats := h.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, int16(10), stats.Min)
	assert.Equal(t, int16(30), stats.Max)
	assert.InDelta(t, 20.0, stats.Mean, 1e-9)
	assert.InDelta(t, 20.0, stats.Median, 1e-9)
	assert.InDelta(t, math.Sqrt(200.0/3.0), stats.StdDev, 1e-9)
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(4)
	assert.Equal(t, HistoryStats{}, h.Stats())
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	at := time.Unix(1_700_000_000, 0)
	for _, v := range []int16{-10, 0, 10, 20, 29} {
		h.Record(at, v)
	}

	stats := h.Stats()
	assert.Equal(t, 3, stats.Count)
	// Only the last three survive.
	assert.Equal(t, int16(10), stats.Min)
	assert.Equal(t, int16(29), stats.Max)
}

func TestHistoryRecordsOnlyReadEvents(t *testing.T) {
	h := NewHistory(4)
	reading := int16(12)
	at := time.Unix(1_700_000_000, 0)

	h.Publish(Event{Kind: EventConnect, At: at})
	h.Publish(Event{Kind: EventSleep, At: at, Nap: time.Second})
	h.Publish(Event{Kind: EventRead, At: at})
	assert.Equal(t, 0, h.Stats().Count)

	h.Publish(Event{Kind: EventRead, At: at, Reading: &reading})
	stats := h.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, reading, stats.Min)
	assert.Equal(t, reading, stats.Max)
}
