package beacon

import (
	"log/slog"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// NightWatch enables duty cycling between sunset and sunrise at the
// configured coordinates and disables it during the day, so the device
// only conserves power when nobody is expected to read it.
type NightWatch struct {
	latitude  float64
	longitude float64
	duty      *DutyCycleController
	now       func() time.Time
	stop      chan struct{}
	done      chan struct{}
}

func NewNightWatch(latitude, longitude float64, duty *DutyCycleController, now func() time.Time) *NightWatch {
	if now == nil {
		now = time.Now
	}
	return &NightWatch{
		latitude:  latitude,
		longitude: longitude,
		duty:      duty,
		now:       now,
	}
}

// Start launches the watch goroutine.
func (w *NightWatch) Start() {
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.runner()
}

// Stop terminates the watch goroutine and waits for it to exit. Safe to
// call when the watch never started.
func (w *NightWatch) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
}

func (w *NightWatch) runner() {
	defer close(w.done)
	for {
		now := w.now()
		night, next := nightWindow(now, w.latitude, w.longitude)
		w.duty.Set(night)
		slog.Debug("Night watch checked sun times", "night", night, "next", next)
		select {
		case <-w.stop:
			return
		case <-time.After(next.Sub(now)):
		}
	}
}

// nightWindow reports whether now falls between sunset and sunrise, and
// the instant of the next day/night transition.
func nightWindow(now time.Time, latitude, longitude float64) (bool, time.Time) {
	rise, set := sunrise.SunriseSunset(latitude, longitude, now.Year(), now.Month(), now.Day())
	tomorrow := now.Add(24 * time.Hour)
	riseNext, _ := sunrise.SunriseSunset(latitude, longitude, tomorrow.Year(), tomorrow.Month(), tomorrow.Day())

	var night bool
	var next time.Time
	switch {
	case now.Before(rise):
		// After midnight, before sunrise
		night = true
		next = rise
	case now.Before(set):
		// Daytime
		night = false
		next = set
	default:
		// After sunset, before midnight
		night = true
		next = riseNext
	}
	// Polar day or night leaves no transition to wait for; check again
	// in an hour instead of busy-looping on a past instant.
	if !next.After(now) {
		next = now.Add(time.Hour)
	}
	return night, next
}
