package main

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tempbeacon/beacon"
	c "tempbeacon/config"
	pl "tempbeacon/platform"
	"tempbeacon/retain"
	u "tempbeacon/util"
)

type MockPlatform struct {
	pl.Platform
	buttonEvents chan *u.Trigger
	handler      pl.BLEHandler
	restarts     *u.AtomicEvent[string]
	mu           sync.Mutex
	naps         []time.Duration
	readverts    int
	stopCalls    int
}

func NewMockPlatform(restarts *u.AtomicEvent[string]) *MockPlatform {
	return &MockPlatform{
		buttonEvents: make(chan *u.Trigger, 8),
		restarts:     restarts,
	}
}

func (m *MockPlatform) Start() error {
	return nil
}

func (m *MockPlatform) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
}

func (m *MockPlatform) SetHandler(handler pl.BLEHandler) {
	m.handler = handler
}

func (m *MockPlatform) Ready() <-chan bool {
	readyChan := make(chan bool)
	close(readyChan)
	return readyChan
}

func (m *MockPlatform) ButtonEvents() <-chan *u.Trigger {
	return m.buttonEvents
}

func (m *MockPlatform) DeepSleep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naps = append(m.naps, d)
}

func (m *MockPlatform) PowerCycle() {
	// Behaves like the process power unit: post a restart request.
	m.restarts.Send(pl.RestartPowerCycle)
}

func (m *MockPlatform) Readvertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readverts++
	return nil
}

func (m *MockPlatform) Advertising() bool {
	return true
}

func (m *MockPlatform) ShowReading(v int16) {
}

func (m *MockPlatform) ShowMessage(msg string) {
}

func (m *MockPlatform) ClearDisplay() {
}

func (m *MockPlatform) PushStatus(key, v string) {
}

func (m *MockPlatform) stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func (m *MockPlatform) readvertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readverts
}

// memoryStore keeps the retained snapshot in memory.
type memoryStore struct {
	mu     sync.Mutex
	snap   *retain.State
	clears int
}

func (s *memoryStore) Load() (*retain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	return &cp, nil
}

func (s *memoryStore) Save(state *retain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.snap = &cp
	return nil
}

func (s *memoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.clears++
	return nil
}

// newTestApp wires an App with an injected mock platform and store, the
// way initialise() would with the real ones.
func newTestApp(conf *c.Config) (*App, *MockPlatform, *memoryStore) {
	ossignal := make(chan os.Signal, 1)
	app := NewApp(ossignal)
	app.config = conf

	mock := NewMockPlatform(app.restarts)
	store := &memoryStore{}
	app.platform = mock
	app.store = store
	app.device = beacon.NewDevice(conf, mock, store)
	app.platform.SetHandler(app.device.Session())
	return app, mock, store
}

func TestButtonHoldRequestsPowerCycle(t *testing.T) {
	conf := c.DefaultConfig()
	conf.DutyCycle.PollInterval = 5 * time.Millisecond
	app, mock, _ := newTestApp(conf)

	app.device.Start()
	t.Cleanup(func() {
		if app.device != nil {
			app.device.Stop()
		}
	})

	// A short C release must not trigger anything.
	mock.buttonEvents <- u.NewTrigger(c.ButtonC, conf.Buttons.HoldCount-1, time.Now())
	time.Sleep(50 * time.Millisecond)
	assert.False(t, app.restarts.HasPending())

	// Held past the threshold, the device requests the full reset.
	mock.buttonEvents <- u.NewTrigger(c.ButtonC, conf.Buttons.HoldCount, time.Now())
	assert.Eventually(t, func() bool {
		return app.restarts.HasPending()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, pl.RestartPowerCycle, app.restarts.Value())
}

func TestCharacteristicReadThroughAppWiring(t *testing.T) {
	conf := c.DefaultConfig()
	app, mock, _ := newTestApp(conf)
	app.device.Start()
	t.Cleanup(app.device.Stop)

	mock.handler.OnConnect("11:22:33:44:55:66")
	data := mock.handler.OnCharacteristicRead()

	v, err := beacon.DecodeReading(data)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, v, int16(-10))
	assert.LessOrEqual(t, v, int16(29))

	// The default recovery strategy resumes advertising on disconnect.
	mock.handler.OnDisconnect("11:22:33:44:55:66")
	assert.Equal(t, 1, mock.readvertCount())
}

func TestShutdownStopsEverythingOnce(t *testing.T) {
	conf := c.DefaultConfig()
	app, mock, _ := newTestApp(conf)
	app.device.Start()

	app.shutdown()
	assert.Equal(t, 1, mock.stopped())
	assert.Nil(t, app.device)
	assert.Nil(t, app.platform)

	// A second shutdown is a no-op, not a panic.
	app.shutdown()
	assert.Equal(t, 1, mock.stopped())
}

func TestPowerCycleRestartClearsRetainedState(t *testing.T) {
	conf := c.DefaultConfig()
	app, _, store := newTestApp(conf)
	store.Save(&retain.State{DutyCycleEnabled: true, SavedAt: time.Now()})

	// The run loop reacts to a powercycle request by clearing the store
	// after teardown; exercise the same sequence directly.
	app.restarts.Send(pl.RestartPowerCycle)
	<-app.restarts.Channel()
	assert.Equal(t, pl.RestartPowerCycle, app.restarts.Value())

	app.shutdown()
	assert.NoError(t, app.store.Clear())

	snap, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestWatcherUpdatesNilSafe(t *testing.T) {
	app := NewApp(make(chan os.Signal, 1))
	assert.Nil(t, app.watcherUpdates())
}
