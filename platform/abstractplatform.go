package platform

import (
	"log/slog"
	"sync"

	c "tempbeacon/config"
	u "tempbeacon/util"
)

// buttonQueueSize bounds the button event channel. The device loop is
// blocked while deep-sleeping, so releases arriving during a nap queue up
// here; anything beyond the bound is dropped.
const buttonQueueSize = 8

// AbstractPlatform carries the state shared between the host platform
// and the TUI simulation: the button event channel, the registered BLE
// handler and the status surface.
type AbstractPlatform struct {
	config       *c.Config
	buttonEvents chan *u.Trigger
	handler      BLEHandler
	status       *u.AtomicMapEvent[string]

	// Guards isShuttingDown
	shutdownMutex  sync.RWMutex
	isShuttingDown bool
}

func newAbstractPlatform(conf *c.Config) *AbstractPlatform {
	return &AbstractPlatform{
		config:       conf,
		buttonEvents: make(chan *u.Trigger, buttonQueueSize),
		status:       u.NewAtomicMapEvent[string](),
	}
}

func (s *AbstractPlatform) SetHandler(handler BLEHandler) {
	s.handler = handler
}

func (s *AbstractPlatform) ButtonEvents() <-chan *u.Trigger {
	return s.buttonEvents
}

// PushStatus records one named status field. The TUI renders the fields
// in its status pane; the host keeps only the latest value per key and
// never consumes them.
func (s *AbstractPlatform) PushStatus(key, value string) {
	s.status.Send(key, value)
}

// emitTrigger hands a button release to the device loop without ever
// blocking the caller. A press already fires the wake source, so a
// trigger dropped on a full queue only loses a redundant repeat.
func (s *AbstractPlatform) emitTrigger(trig *u.Trigger) {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	if s.isShuttingDown {
		return
	}
	select {
	case s.buttonEvents <- trig:
	default:
		slog.Debug("Button queue full, dropping trigger", "id", trig.ID, "held", trig.Value)
	}
}

func (s *AbstractPlatform) setInShutdown() {
	s.shutdownMutex.Lock()
	s.isShuttingDown = true
	s.shutdownMutex.Unlock()
}
