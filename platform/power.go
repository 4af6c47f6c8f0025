package platform

import (
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"

	u "tempbeacon/util"
)

// RestartPowerCycle is the payload posted to the application's restart
// event when a power cycle is requested in process power mode. The
// application reacts by clearing the retained state and re-initialising
// everything, which is the closest a process gets to a reboot.
const RestartPowerCycle = "powercycle"

// powerUnit models the power management hardware: the deep-sleep
// mechanism and the full reset. Selected via the Power.Mode config
// setting.
type powerUnit interface {
	// deepSleep blocks for the duration or until wake fires.
	deepSleep(d time.Duration)

	// wake fires the external wake source, cutting a deep sleep short.
	wake()

	// powerCycle performs the full reset.
	powerCycle()
}

// processPowerUnit simulates deep sleep inside the process: the caller
// blocks on a timer that a wake can cut short. Used by the TUI and by
// hosts that must not actually suspend.
type processPowerUnit struct {
	restarts *u.AtomicEvent[string]

	// Guards sleeping
	mu       sync.Mutex
	sleeping bool
	wakeChan chan struct{}
}

func newProcessPowerUnit(restarts *u.AtomicEvent[string]) *processPowerUnit {
	return &processPowerUnit{
		restarts: restarts,
		wakeChan: make(chan struct{}, 1),
	}
}

func (p *processPowerUnit) deepSleep(d time.Duration) {
	p.mu.Lock()
	p.sleeping = true
	// Drop a wake left over from before the sleep started; only wakes
	// arriving during the nap may cut it short.
	select {
	case <-p.wakeChan:
	default:
	}
	p.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.wakeChan:
		slog.Debug("Deep sleep cut short by wake source")
	}

	p.mu.Lock()
	p.sleeping = false
	p.mu.Unlock()
}

func (p *processPowerUnit) wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sleeping {
		return
	}
	select {
	case p.wakeChan <- struct{}{}:
	default:
	}
}

func (p *processPowerUnit) powerCycle() {
	p.restarts.Send(RestartPowerCycle)
}

// systemPowerUnit uses the real thing: suspend-to-RAM with an RTC alarm
// for deep sleep, and a reboot for the power cycle. The retained state
// file lives on tmpfs, so it survives the former and not the latter.
type systemPowerUnit struct{}

func (p *systemPowerUnit) deepSleep(d time.Duration) {
	// rtcwake only takes whole seconds
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	out, err := exec.Command("rtcwake", "-m", "mem", "-s", strconv.Itoa(secs)).CombinedOutput()
	if err != nil {
		slog.Error("Suspend failed, falling back to an in-process nap",
			"error", err, "output", string(out))
		time.Sleep(d)
	}
}

// wake is a no-op: wake sources for suspend-to-RAM are configured at the
// OS level, not by us.
func (p *systemPowerUnit) wake() {}

func (p *systemPowerUnit) powerCycle() {
	out, err := exec.Command("systemctl", "reboot").CombinedOutput()
	if err != nil {
		slog.Error("Reboot failed", "error", err, "output", string(out))
	}
}
