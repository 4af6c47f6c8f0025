package beacon

import (
	"log/slog"
	"sync"
	"time"

	c "tempbeacon/config"
)

// DutyCycleController compares the clock against the activity deadline on
// every tick of the run loop and puts the device into deep sleep when the
// duty-cycle flag is on and the deadline has passed.
type DutyCycleController struct {
	state   *State
	timer   *ActivityTimer
	hw      Hardware
	sink    Sink
	persist func()
	now     func() time.Time

	// Guards the runtime-changeable timings below
	mu    sync.Mutex
	awake time.Duration
	sleep time.Duration
}

func NewDutyCycleController(conf *c.Config, state *State, timer *ActivityTimer,
	hw Hardware, sink Sink, persist func(), now func() time.Time) *DutyCycleController {
	if now == nil {
		now = time.Now
	}
	return &DutyCycleController{
		state:   state,
		timer:   timer,
		hw:      hw,
		sink:    sink,
		persist: persist,
		now:     now,
		awake:   conf.DutyCycle.AwakeTime,
		sleep:   conf.DutyCycle.SleepTime,
	}
}

// Tick checks the sleep condition. When it holds, Tick persists the
// retained region, blocks in DeepSleep for the configured duration and
// returns true so the caller can run the warm re-init path. Expiry is
// strict: a tick at exactly the deadline does not sleep yet.
func (dc *DutyCycleController) Tick(now time.Time) bool {
	if !dc.state.DutyCycleEnabled() || !dc.timer.IsExpired(now) {
		return false
	}
	nap := dc.sleepTime()
	dc.hw.ShowMessage("deep sleep " + nap.String())
	slog.Debug("Activity deadline passed, entering deep sleep", "duration", nap)
	dc.sink.Publish(Event{Kind: EventSleep, At: now, Nap: nap})
	if dc.persist != nil {
		dc.persist()
	}
	dc.hw.DeepSleep(nap)
	return true
}

// Toggle flips the duty-cycle flag and grants the awake grace so the
// toggle itself cannot trigger an immediate sleep. Returns the new value.
func (dc *DutyCycleController) Toggle() bool {
	enabled := dc.state.ToggleDutyCycle()
	dc.timer.Prolong(dc.awakeTime())
	dc.hw.ShowMessage("duty cycle " + onOff(enabled))
	slog.Info("Duty cycle toggled", "enabled", enabled)
	on := enabled
	dc.sink.Publish(Event{Kind: EventToggle, At: dc.now(), Enabled: &on})
	return enabled
}

// Set forces the flag to a value; a no-op when it already matches. The
// night watch uses this to avoid spurious toggles on every check.
func (dc *DutyCycleController) Set(enabled bool) {
	if dc.state.DutyCycleEnabled() == enabled {
		return
	}
	dc.Toggle()
}

// GrantAwake prolongs the activity timer by the awake grace. The boot and
// wake paths call this so the device never sleeps right after coming up.
func (dc *DutyCycleController) GrantAwake() {
	dc.timer.Prolong(dc.awakeTime())
}

func (dc *DutyCycleController) awakeTime() time.Duration {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.awake
}

func (dc *DutyCycleController) sleepTime() time.Duration {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.sleep
}

// SetTimes applies a runtime config change of the cycle timings.
func (dc *DutyCycleController) SetTimes(awake, sleep time.Duration) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.awake = awake
	dc.sleep = sleep
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
