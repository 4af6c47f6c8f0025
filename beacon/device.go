package beacon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	c "tempbeacon/config"
	"tempbeacon/retain"
	u "tempbeacon/util"
)

// Store is the retained-region persistence the device needs across deep
// sleep. Implemented by retain.Store; tests plug in an in-memory fake.
type Store interface {
	// Load returns nil without error when no retained state exists yet.
	Load() (*retain.State, error)
	Save(state *retain.State) error
	Clear() error
}

// Device wires the state machine together and runs the poll loop: button
// dispatch, duty-cycle ticks and the warm re-init path after a sleep.
type Device struct {
	state   *State
	timer   *ActivityTimer
	source  *ReadingSource
	session *SessionManager
	duty    *DutyCycleController
	history *History
	hw      Hardware
	store   Store
	sink    Sink
	restart *u.AtomicEvent[WakeReason]
	now     func() time.Time

	bootEnabled bool
	holdCount   int

	// Guards the runtime-changeable loop settings and the night watch
	mu          sync.Mutex
	poll        time.Duration
	nightConf   c.NightWatchConfig
	watch       *NightWatch
	pollChanged chan struct{}

	stopsignal chan struct{}
	shutdownWg sync.WaitGroup
}

// NewDevice builds the core device from the configuration. Extra sinks
// (such as the telemetry publisher) receive every lifecycle event in
// addition to the built-in history.
func NewDevice(conf *c.Config, hw Hardware, store Store, sinks ...Sink) *Device {
	d := &Device{
		hw:          hw,
		store:       store,
		now:         time.Now,
		bootEnabled: conf.DutyCycle.EnabledAtBoot,
		holdCount:   conf.Buttons.HoldCount,
		poll:        conf.DutyCycle.PollInterval,
		nightConf:   conf.NightWatch,
		pollChanged: make(chan struct{}, 1),
		stopsignal:  make(chan struct{}),
	}
	d.state = NewState()
	d.timer = NewActivityTimer(d.clock)
	d.source = NewReadingSource(time.Now().UnixNano())
	d.history = NewHistory(conf.History.Size)
	d.restart = u.NewAtomicEvent[WakeReason]()
	d.sink = append(multiSink{d.history}, sinks...)
	d.session = NewSessionManager(conf, d.state, d.timer, d.source, hw, d.sink, d.restart, d.saveRetained, d.clock)
	d.duty = NewDutyCycleController(conf, d.state, d.timer, hw, d.sink, d.saveRetained, d.clock)
	return d
}

// clock indirects through d.now so tests can swap the clock after
// construction and every component follows.
func (d *Device) clock() time.Time {
	return d.now()
}

// Session returns the BLE event handler to register with the platform.
func (d *Device) Session() *SessionManager {
	return d.session
}

// Start performs the boot path and launches the run loop.
func (d *Device) Start() {
	d.boot()
	d.shutdownWg.Add(1)
	go d.run()

	d.mu.Lock()
	if d.nightConf.Enabled {
		d.watch = NewNightWatch(d.nightConf.Latitude, d.nightConf.Longitude, d.duty, d.clock)
		d.watch.Start()
	}
	d.mu.Unlock()
}

// Stop terminates the night watch and the run loop.
func (d *Device) Stop() {
	d.mu.Lock()
	if d.watch != nil {
		d.watch.Stop()
		d.watch = nil
	}
	d.mu.Unlock()

	close(d.stopsignal)
	d.shutdownWg.Wait()
}

// boot replays the firmware's setup path: restore the retained region
// when it survived (warm boot after a suspend), otherwise start from
// defaults, then grant the awake grace so the device never sleeps right
// after coming up.
func (d *Device) boot() {
	retained, err := d.store.Load()
	if err != nil {
		slog.Error("Retained state unreadable, treating as cold boot", "error", err)
		retained = nil
	}
	if retained != nil {
		d.state.SetDutyCycle(retained.DutyCycleEnabled)
		d.state.SetLastReading(retained.LastReading)
		d.timer.Restore(retained.Deadline)
		d.state.setBoot(BootWarm)
		slog.Info("Warm boot, retained state restored",
			"dutycycle", retained.DutyCycleEnabled, "savedat", retained.SavedAt)
	} else {
		d.state.SetDutyCycle(d.bootEnabled)
		d.state.setBoot(BootCold)
		slog.Info("Cold boot", "dutycycle", d.bootEnabled)
	}
	d.hw.ShowMessage("temperature node starting")
	d.duty.GrantAwake()
	d.pushStatus()
}

func (d *Device) run() {
	defer d.shutdownWg.Done()
	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-d.stopsignal:
			slog.Info("Ending device run loop...")
			return
		case trig := <-d.hw.ButtonEvents():
			d.handleButton(trig)
		case <-d.restart.Channel():
			d.warmRestart(d.restart.Value())
		case <-d.pollChanged:
			ticker.Reset(d.pollInterval())
		case <-ticker.C:
			d.step(d.now())
		}
	}
}

// step runs one duty-cycle tick. Tick blocks through the sleep when the
// condition holds; the return value routes us through the wake path.
func (d *Device) step(now time.Time) {
	if d.duty.Tick(now) {
		d.warmRestart(WakeTimer)
	}
	d.pushStatus()
}

// warmRestart is the wake path out of a deep sleep: reload the retained
// region, count the wake, grant the awake grace and resume advertising.
func (d *Device) warmRestart(reason WakeReason) {
	retained, err := d.store.Load()
	if err != nil {
		slog.Error("Retained state unreadable after wake", "error", err)
	} else if retained != nil {
		d.state.SetDutyCycle(retained.DutyCycleEnabled)
		d.state.SetLastReading(retained.LastReading)
		d.timer.Restore(retained.Deadline)
	}
	d.state.setBoot(BootWarm)
	wakes := d.state.incWakes()
	d.duty.GrantAwake()
	if err := d.hw.Readvertise(); err != nil {
		slog.Error("Advertising restart failed after wake", "error", err)
	}
	d.hw.ShowMessage(fmt.Sprintf("awake (%s)", reason))
	slog.Info("Woke from deep sleep", "reason", reason, "wakes", wakes)
	d.sink.Publish(Event{Kind: EventWake, At: d.now()})
	d.saveRetained()
	d.pushStatus()
}

// handleButton dispatches a released button. A acts on any release; B and
// C require the configured hold length, like the original hardware.
func (d *Device) handleButton(trig *u.Trigger) {
	switch trig.ID {
	case c.ButtonA:
		slog.Debug("Button A released, clearing display", "held", trig.Value)
		d.hw.ClearDisplay()
	case c.ButtonB:
		if trig.Value < d.holdCount {
			slog.Debug("Button B released too early", "held", trig.Value, "want", d.holdCount)
			return
		}
		d.duty.Toggle()
		d.saveRetained()
	case c.ButtonC:
		if trig.Value < d.holdCount {
			slog.Debug("Button C released too early", "held", trig.Value, "want", d.holdCount)
			return
		}
		slog.Info("Button C held, requesting full reset")
		d.sink.Publish(Event{Kind: EventReset, At: trig.Timestamp})
		d.hw.PowerCycle()
	default:
		slog.Warn("Trigger from unknown button", "id", trig.ID)
		return
	}
	d.pushStatus()
}

// saveRetained writes the fields that survive a deep sleep. Failures are
// logged; the device keeps running on the in-memory state.
func (d *Device) saveRetained() {
	snap := &retain.State{
		DutyCycleEnabled: d.state.DutyCycleEnabled(),
		Deadline:         d.timer.Deadline(),
		LastReading:      d.state.LastReading(),
		SavedAt:          d.now(),
	}
	if err := d.store.Save(snap); err != nil {
		slog.Error("Can't save retained state", "error", err)
	}
}

// Status is the live snapshot served by /api/status and the TUI pane.
type Status struct {
	DutyCycleEnabled bool         `json:"DutyCycleEnabled"`
	Connected        bool         `json:"Connected"`
	Advertising      bool         `json:"Advertising"`
	Session          string       `json:"Session,omitempty"`
	Deadline         time.Time    `json:"Deadline"`
	Remaining        string       `json:"Remaining"`
	LastReading      int16        `json:"LastReading"`
	BootKind         BootKind     `json:"BootKind"`
	Wakes            int          `json:"Wakes"`
	History          HistoryStats `json:"History"`
}

func (d *Device) Status() Status {
	deadline := d.timer.Deadline()
	remaining := deadline.Sub(d.now())
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		DutyCycleEnabled: d.state.DutyCycleEnabled(),
		Connected:        d.state.Connected(),
		Advertising:      d.hw.Advertising(),
		Session:          d.state.Session(),
		Deadline:         deadline,
		Remaining:        remaining.Round(time.Millisecond).String(),
		LastReading:      d.state.LastReading(),
		BootKind:         d.state.Boot(),
		Wakes:            d.state.Wakes(),
		History:          d.history.Stats(),
	}
}

// StatusHandler serves the live snapshot as JSON for GET /api/status.
func (d *Device) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
			slog.Error("Failed to encode status to JSON", "error", err)
			http.Error(w, "Failed to serialize status", http.StatusInternalServerError)
		}
	}
}

// pushStatus feeds the platform's status surface.
func (d *Device) pushStatus() {
	st := d.Status()
	d.hw.PushStatus("duty", onOff(st.DutyCycleEnabled))
	d.hw.PushStatus("connected", strconv.FormatBool(st.Connected))
	d.hw.PushStatus("advertising", strconv.FormatBool(st.Advertising))
	d.hw.PushStatus("deadline", st.Deadline.Format(time.TimeOnly))
	d.hw.PushStatus("remaining", st.Remaining)
	d.hw.PushStatus("reading", fmt.Sprintf("%d°C", st.LastReading))
	d.hw.PushStatus("boot", string(st.BootKind))
	d.hw.PushStatus("wakes", strconv.Itoa(st.Wakes))
	if st.History.Count > 0 {
		d.hw.PushStatus("history", fmt.Sprintf("[%d|%.1f|%d] sd %.1f (n=%d)",
			st.History.Min, st.History.Mean, st.History.Max, st.History.StdDev, st.History.Count))
	}
}

// ApplyRuntime applies the runtime-safe configuration subset without a
// restart: duty-cycle timings, recovery strategy and the night watch.
// A telemetry change takes effect at the next restart.
func (d *Device) ApplyRuntime(conf *c.Config) {
	d.duty.SetTimes(conf.DutyCycle.AwakeTime, conf.DutyCycle.SleepTime)
	d.session.SetActivityTimeout(conf.DutyCycle.ActivityTimeout)
	d.session.SetRecovery(conf.Recovery.Strategy, conf.Recovery.RestartNap)
	d.setPollInterval(conf.DutyCycle.PollInterval)
	d.applyNightWatch(conf.NightWatch)
	slog.Info("Runtime configuration applied")
}

func (d *Device) pollInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poll
}

func (d *Device) setPollInterval(poll time.Duration) {
	d.mu.Lock()
	changed := poll != d.poll
	d.poll = poll
	d.mu.Unlock()
	if changed {
		select {
		case d.pollChanged <- struct{}{}:
		default:
		}
	}
}

// applyNightWatch rebuilds the watch when its settings changed; the watch
// goroutine itself holds its coordinates immutable.
func (d *Device) applyNightWatch(conf c.NightWatchConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conf == d.nightConf {
		return
	}
	if d.watch != nil {
		d.watch.Stop()
		d.watch = nil
	}
	if conf.Enabled {
		d.watch = NewNightWatch(conf.Latitude, conf.Longitude, d.duty, d.clock)
		d.watch.Start()
	}
	d.nightConf = conf
}
