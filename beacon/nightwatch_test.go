package beacon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	c "tempbeacon/config"
)

// Munich: far enough north for long June days, no polar effects.
const (
	testLatitude  = 48.137
	testLongitude = 11.575
)

func TestNightWindowDaytime(t *testing.T) {
	noon := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	night, next := nightWindow(noon, testLatitude, testLongitude)

	assert.False(t, night)
	assert.True(t, next.After(noon), "next transition is the coming sunset")
	assert.True(t, next.Sub(noon) < 12*time.Hour)
}

func TestNightWindowBeforeSunrise(t *testing.T) {
	early := time.Date(2024, time.June, 21, 1, 0, 0, 0, time.UTC)
	night, next := nightWindow(early, testLatitude, testLongitude)

	assert.True(t, night)
	assert.True(t, next.After(early), "next transition is today's sunrise")
	assert.Equal(t, early.Day(), next.Day())
}

func TestNightWindowAfterSunset(t *testing.T) {
	late := time.Date(2024, time.June, 21, 22, 0, 0, 0, time.UTC)
	night, next := nightWindow(late, testLatitude, testLongitude)

	assert.True(t, night)
	assert.True(t, next.After(late), "next transition is tomorrow's sunrise")
	assert.NotEqual(t, late.Day(), next.Day())
}

func TestNightWindowPolarFallback(t *testing.T) {
	// Svalbard midsummer: the sun never sets, there is no transition to
	// wait for. The watch must still pick a future recheck instant.
	midsummer := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	_, next := nightWindow(midsummer, 78.22, 15.63)
	assert.True(t, next.After(midsummer))
}

func TestNightWatchSetsFlag(t *testing.T) {
	conf := c.DefaultConfig()
	ctrl, _, clk := newTestController(conf)

	// Pin the clock to local night.
	clk.mu.Lock()
	clk.t = time.Date(2024, time.June, 21, 23, 30, 0, 0, time.UTC)
	clk.mu.Unlock()

	w := NewNightWatch(testLatitude, testLongitude, ctrl, clk.now)
	w.Start()
	t.Cleanup(w.Stop)

	assert.Eventually(t, func() bool {
		return ctrl.state.DutyCycleEnabled()
	}, time.Second, 5*time.Millisecond)
}
