package beacon

import "sync"

// BootKind distinguishes a full power-on from a wake out of deep sleep.
type BootKind string

const (
	BootCold BootKind = "cold"
	BootWarm BootKind = "warm"
)

// State owns the mutable device fields shared between the run loop and
// the BLE callbacks. The duty-cycle flag and the last reading survive a
// deep sleep through the retain store; the connection fields are
// volatile and reset on every boot.
type State struct {
	// Guards all fields below
	mu          sync.Mutex
	dutyCycle   bool
	lastReading int16
	connected   bool
	session     string
	boot        BootKind
	wakes       int
}

func NewState() *State {
	return &State{boot: BootCold}
}

func (s *State) DutyCycleEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dutyCycle
}

func (s *State) SetDutyCycle(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dutyCycle = enabled
}

// ToggleDutyCycle flips the flag and returns the new value.
func (s *State) ToggleDutyCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dutyCycle = !s.dutyCycle
	return s.dutyCycle
}

func (s *State) LastReading() int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReading
}

func (s *State) SetLastReading(v int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReading = v
}

func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetConnected updates the connection state together with the session id
// of the current central, which is empty while disconnected.
func (s *State) SetConnected(connected bool, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.session = session
}

func (s *State) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *State) Boot() BootKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boot
}

func (s *State) setBoot(kind BootKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot = kind
}

func (s *State) Wakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes
}

// incWakes counts one wake out of deep sleep and returns the new total.
func (s *State) incWakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes++
	return s.wakes
}
