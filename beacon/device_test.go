package beacon

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	c "tempbeacon/config"
	"tempbeacon/retain"
	u "tempbeacon/util"
)

// fakeClock is a hand-driven clock shared by the fakes and the device.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeHardware records every interaction the device has with its platform.
type fakeHardware struct {
	mu          sync.Mutex
	buttons     chan *u.Trigger
	naps        []time.Duration
	cycles      int
	readverts   int
	readvertErr error
	messages    []string
	readings    []int16
	cleared     int
	status      map[string]string
	advertising bool
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		buttons:     make(chan *u.Trigger, 8),
		status:      make(map[string]string),
		advertising: true,
	}
}

func (h *fakeHardware) ButtonEvents() <-chan *u.Trigger { return h.buttons }

func (h *fakeHardware) DeepSleep(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.naps = append(h.naps, d)
}

func (h *fakeHardware) PowerCycle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles++
}

func (h *fakeHardware) Readvertise() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readverts++
	return h.readvertErr
}

func (h *fakeHardware) Advertising() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advertising
}

func (h *fakeHardware) ShowReading(v int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings = append(h.readings, v)
}

func (h *fakeHardware) ShowMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *fakeHardware) ClearDisplay() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared++
}

func (h *fakeHardware) PushStatus(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[key] = value
}

func (h *fakeHardware) napsTaken() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make([]time.Duration, len(h.naps))
	copy(ret, h.naps)
	return ret
}

func (h *fakeHardware) cycleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cycles
}

func (h *fakeHardware) readvertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readverts
}

func (h *fakeHardware) clearCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleared
}

// fakeStore keeps the retained snapshot in memory.
type fakeStore struct {
	mu     sync.Mutex
	snap   *retain.State
	saves  int
	clears int
}

func (s *fakeStore) Load() (*retain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	return &cp, nil
}

func (s *fakeStore) Save(state *retain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.snap = &cp
	s.saves++
	return nil
}

func (s *fakeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.clears++
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// nullSink discards events; used where a test needs a Sink but no device.
type nullSink struct{}

func (nullSink) Publish(Event) {}

func newTestDevice(t *testing.T, conf *c.Config) (*Device, *fakeHardware, *fakeStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	hw := newFakeHardware()
	store := &fakeStore{}
	dev := NewDevice(conf, hw, store)
	dev.now = clk.now
	return dev, hw, store, clk
}

func TestDeviceDutyCycleEndToEnd(t *testing.T) {
	conf := c.DefaultConfig()
	dev, hw, _, clk := newTestDevice(t, conf)

	dev.boot()
	assert.False(t, dev.state.DutyCycleEnabled())
	assert.Equal(t, BootCold, dev.state.Boot())

	// Flag off: no amount of idle ticking may put the device to sleep.
	for range 20 {
		clk.advance(time.Second)
		dev.step(clk.now())
	}
	assert.Empty(t, hw.napsTaken())

	// Enable duty cycling; the toggle grants the awake grace.
	dev.duty.Toggle()
	assert.True(t, dev.state.DutyCycleEnabled())

	// Exactly at the deadline: strict comparison, still awake.
	clk.advance(conf.DutyCycle.AwakeTime)
	dev.step(clk.now())
	assert.Empty(t, hw.napsTaken())

	// Strictly past the deadline: exactly one sleep of SleepTime.
	clk.advance(time.Second)
	dev.step(clk.now())
	naps := hw.napsTaken()
	if assert.Len(t, naps, 1) {
		assert.Equal(t, conf.DutyCycle.SleepTime, naps[0])
	}

	// The wake path re-advertised and granted a fresh grace.
	assert.Equal(t, 1, hw.readvertCount())
	assert.Equal(t, BootWarm, dev.state.Boot())
	assert.Equal(t, 1, dev.state.Wakes())
	clk.advance(time.Second)
	dev.step(clk.now())
	assert.Len(t, hw.napsTaken(), 1)
}

func TestDeviceWarmBootRestoresRetainedState(t *testing.T) {
	conf := c.DefaultConfig()
	dev, _, store, clk := newTestDevice(t, conf)

	store.Save(&retain.State{
		DutyCycleEnabled: true,
		Deadline:         clk.now().Add(-time.Minute),
		LastReading:      int16(-7),
		SavedAt:          clk.now().Add(-2 * time.Second),
	})

	dev.boot()
	assert.Equal(t, BootWarm, dev.state.Boot())
	assert.True(t, dev.state.DutyCycleEnabled())
	assert.Equal(t, int16(-7), dev.state.LastReading())
	// The boot path grants the awake grace on top of the restored
	// deadline, exactly like the firmware's setup.
	assert.Equal(t, clk.now().Add(conf.DutyCycle.AwakeTime), dev.timer.Deadline())
}

func TestDeviceButtonDispatch(t *testing.T) {
	conf := c.DefaultConfig()
	dev, hw, store, clk := newTestDevice(t, conf)
	dev.boot()

	// Button A clears the display on any release.
	dev.handleButton(u.NewTrigger(c.ButtonA, 1, clk.now()))
	assert.Equal(t, 1, hw.clearCount())

	// Button B released before the hold threshold does nothing.
	dev.handleButton(u.NewTrigger(c.ButtonB, conf.Buttons.HoldCount-1, clk.now()))
	assert.False(t, dev.state.DutyCycleEnabled())

	// Held long enough it toggles and persists the retained region.
	saves := store.saveCount()
	dev.handleButton(u.NewTrigger(c.ButtonB, conf.Buttons.HoldCount, clk.now()))
	assert.True(t, dev.state.DutyCycleEnabled())
	assert.Greater(t, store.saveCount(), saves)

	// Button C held long enough requests the full reset.
	dev.handleButton(u.NewTrigger(c.ButtonC, conf.Buttons.HoldCount-1, clk.now()))
	assert.Equal(t, 0, hw.cycleCount())
	dev.handleButton(u.NewTrigger(c.ButtonC, conf.Buttons.HoldCount+2, clk.now()))
	assert.Equal(t, 1, hw.cycleCount())
}

func TestDeviceRunLoopDeliversButtons(t *testing.T) {
	conf := c.DefaultConfig()
	conf.DutyCycle.PollInterval = 5 * time.Millisecond
	dev, hw, _, _ := newTestDevice(t, conf)

	dev.Start()
	t.Cleanup(dev.Stop)

	hw.buttons <- u.NewTrigger(c.ButtonA, 1, time.Now())
	assert.Eventually(t, func() bool {
		return hw.clearCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatusHandler(t *testing.T) {
	conf := c.DefaultConfig()
	dev, _, _, clk := newTestDevice(t, conf)
	dev.boot()
	dev.state.SetLastReading(21)
	dev.timer.Prolong(8 * time.Second)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	dev.StatusHandler()(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	err := json.Unmarshal(rec.Body.Bytes(), &st)
	assert.NoError(t, err)
	assert.Equal(t, int16(21), st.LastReading)
	assert.Equal(t, BootCold, st.BootKind)
	assert.True(t, st.Advertising)
	assert.Equal(t, clk.now().Add(8*time.Second).Unix(), st.Deadline.Unix())
	assert.Equal(t, "8s", st.Remaining)

	post := httptest.NewRequest("POST", "/api/status", nil)
	rec = httptest.NewRecorder()
	dev.StatusHandler()(rec, post)
	assert.Equal(t, 405, rec.Code)
}

func TestApplyRuntimeChangesTimings(t *testing.T) {
	conf := c.DefaultConfig()
	dev, hw, _, clk := newTestDevice(t, conf)
	dev.boot()

	changed := c.DefaultConfig()
	changed.DutyCycle.AwakeTime = 1 * time.Second
	changed.DutyCycle.SleepTime = 4 * time.Second
	changed.DutyCycle.ActivityTimeout = 3 * time.Second
	dev.ApplyRuntime(changed)

	dev.duty.Toggle()
	assert.Equal(t, clk.now().Add(1*time.Second), dev.timer.Deadline())

	clk.advance(1500 * time.Millisecond)
	dev.step(clk.now())
	naps := hw.napsTaken()
	if assert.Len(t, naps, 1) {
		assert.Equal(t, 4*time.Second, naps[0])
	}

	dev.session.OnConnect("test-central")
	assert.Equal(t, clk.now().Add(3*time.Second), dev.timer.Deadline())
}
