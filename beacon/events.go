package beacon

import "time"

// EventKind labels the lifecycle transitions published to sinks.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventRead       EventKind = "read"
	EventSleep      EventKind = "sleep"
	EventWake       EventKind = "wake"
	EventToggle     EventKind = "toggle"
	EventReset      EventKind = "reset"
)

// Event describes one device transition. Reading is set for read events,
// Enabled for toggle events, Nap for sleep events, Session for events
// tied to a BLE connection.
type Event struct {
	Kind    EventKind
	At      time.Time
	Session string
	Reading *int16
	Enabled *bool
	Nap     time.Duration
}

// Sink receives device events. The device loop and the BLE callbacks
// publish synchronously, so implementations must not block for long.
type Sink interface {
	Publish(ev Event)
}

// multiSink fans one event out to several sinks in order.
type multiSink []Sink

func (m multiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
