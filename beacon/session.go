package beacon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	c "tempbeacon/config"
	u "tempbeacon/util"
)

// WakeReason explains why the device loop runs the warm re-init path.
type WakeReason string

const (
	WakeTimer      WakeReason = "timer"
	WakeDisconnect WakeReason = "disconnect"
)

// SessionManager reacts to the connect, disconnect and characteristic-read
// callbacks of the BLE stack. Every callback prolongs the activity timer;
// a disconnect additionally runs the configured recovery action. The
// platform invokes the handlers from its own goroutines, so everything
// touched here is mutex-guarded.
type SessionManager struct {
	state   *State
	timer   *ActivityTimer
	source  *ReadingSource
	hw      Hardware
	sink    Sink
	restart *u.AtomicEvent[WakeReason]
	persist func()
	now     func() time.Time

	// Guards the runtime-changeable settings below
	mu       sync.Mutex
	timeout  time.Duration
	strategy string
	nap      time.Duration
}

func NewSessionManager(conf *c.Config, state *State, timer *ActivityTimer, source *ReadingSource,
	hw Hardware, sink Sink, restart *u.AtomicEvent[WakeReason], persist func(), now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		state:    state,
		timer:    timer,
		source:   source,
		hw:       hw,
		sink:     sink,
		restart:  restart,
		persist:  persist,
		now:      now,
		timeout:  conf.DutyCycle.ActivityTimeout,
		strategy: conf.Recovery.Strategy,
		nap:      conf.Recovery.RestartNap,
	}
}

// OnConnect handles a new central connection: grant the activity grace,
// mark the connection and assign it a session id.
func (m *SessionManager) OnConnect(client string) {
	session := uuid.NewString()
	m.timer.Prolong(m.activityTimeout())
	m.state.SetConnected(true, session)
	m.hw.ShowMessage("client connected")
	slog.Debug("Client connected", "client", client, "session", session)
	m.sink.Publish(Event{Kind: EventConnect, At: m.now(), Session: session})
}

// OnDisconnect clears the connection state and runs the recovery action.
func (m *SessionManager) OnDisconnect(client string) {
	session := m.state.Session()
	m.state.SetConnected(false, "")
	m.hw.ShowMessage("client disconnected")
	slog.Debug("Client disconnected", "client", client, "session", session)
	m.sink.Publish(Event{Kind: EventDisconnect, At: m.now(), Session: session})
	m.recover()
}

// OnCharacteristicRead serves the temperature characteristic: grant the
// activity grace, generate a fresh reading and return its encoded form.
func (m *SessionManager) OnCharacteristicRead() []byte {
	m.timer.Prolong(m.activityTimeout())
	v := m.source.Next()
	m.state.SetLastReading(v)
	m.hw.ShowReading(v)
	slog.Debug("Characteristic read", "celsius", v)
	reading := v
	m.sink.Publish(Event{Kind: EventRead, At: m.now(), Session: m.state.Session(), Reading: &reading})
	return EncodeReading(v)
}

// recover runs the configured post-disconnect action. Strategy
// readvertise asks the stack to resume advertising. Strategy powercycle
// works around stacks that fail to do so: persist the retained region,
// nap briefly in deep sleep and post exactly one warm-restart request,
// which makes the device loop re-init and re-advertise from scratch.
func (m *SessionManager) recover() {
	strategy, nap := m.recovery()
	switch strategy {
	case c.RecoveryPowerCycle:
		slog.Debug("Forcing restart after disconnect", "nap", nap)
		if m.persist != nil {
			m.persist()
		}
		m.hw.DeepSleep(nap)
		m.restart.Send(WakeDisconnect)
	default:
		if err := m.hw.Readvertise(); err != nil {
			slog.Error("Advertising restart failed", "error", err)
		}
	}
}

func (m *SessionManager) activityTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

func (m *SessionManager) recovery() (string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy, m.nap
}

// SetActivityTimeout applies a runtime config change.
func (m *SessionManager) SetActivityTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
}

// SetRecovery applies a runtime config change.
func (m *SessionManager) SetRecovery(strategy string, nap time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = strategy
	m.nap = nap
}
