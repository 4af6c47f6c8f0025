package platform

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	c "tempbeacon/config"
	u "tempbeacon/util"
)

// HostPlatform runs on the real machine: buttons on GPIO, a BLE stack on
// the bluetooth adapter and the configured power unit. The host has no
// LCD, so display output goes to the log.
type HostPlatform struct {
	*AbstractPlatform
	buttons        buttonReader
	buttonNames    []string
	power          powerUnit
	ble            bleStack
	buttonWg       sync.WaitGroup
	buttonStopChan chan bool
	readyChan      chan bool
}

func NewHostPlatform(conf *c.Config, restarts *u.AtomicEvent[string]) *HostPlatform {
	inst := &HostPlatform{
		buttonStopChan: make(chan bool),
		readyChan:      make(chan bool),
	}
	inst.AbstractPlatform = newAbstractPlatform(conf)

	switch conf.Buttons.GPIOLibrary {
	case c.GPIORpio:
		inst.buttons = newRpioButtons()
	default:
		inst.buttons = newPeriphButtons()
	}

	switch conf.Power.Mode {
	case c.PowerSystem:
		inst.power = &systemPowerUnit{}
	default:
		inst.power = newProcessPowerUnit(restarts)
	}

	switch conf.BLE.Stack {
	case c.StackTinyGo:
		inst.ble = newTinygoStack(conf.BLE)
	default:
		inst.ble = newBluezStack(conf.BLE)
	}
	return inst
}

func (s *HostPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *HostPlatform) Start() error {
	if s.handler == nil {
		return fmt.Errorf("no BLE handler registered")
	}

	slog.Info("Initialise GPIO buttons...", "library", s.config.Buttons.GPIOLibrary)
	if err := s.buttons.open(s.config.Buttons.Pins); err != nil {
		return fmt.Errorf("failed to initialize buttons: %w", err)
	}
	s.buttonNames = maps.Keys(s.config.Buttons.Pins)
	sort.Strings(s.buttonNames)

	slog.Info("Initialise BLE stack...", "stack", s.config.BLE.Stack, "adapter", s.config.BLE.Adapter)
	if err := s.ble.start(s.handler); err != nil {
		s.buttons.close()
		return fmt.Errorf("failed to start BLE stack: %w", err)
	}

	s.buttonWg.Add(1)
	go s.buttonDriver()

	close(s.readyChan) // On the host, we are ready immediately.
	return nil
}

func (s *HostPlatform) Stop() {
	s.setInShutdown()

	// Signal the button driver to stop and wait for it
	close(s.buttonStopChan)
	s.buttonWg.Wait()

	// Now, safely shut down the BLE stack and release the pins
	s.ble.stop()
	s.buttons.close()
}

// buttonDriver polls the buttons and turns release edges into triggers.
// A release also fires the wake source, so a press taken during a deep
// sleep cuts the nap short.
func (s *HostPlatform) buttonDriver() {
	defer s.buttonWg.Done()
	ticker := time.NewTicker(s.config.Buttons.PollInterval)
	defer ticker.Stop()

	detectors := make(map[string]*holdDetector, len(s.buttonNames))
	for _, name := range s.buttonNames {
		detectors[name] = newHoldDetector(name)
	}

	for {
		select {
		case <-s.buttonStopChan:
			slog.Info("Ending ButtonDriver go-routine...")
			return
		case <-ticker.C:
			now := time.Now()
			for _, name := range s.buttonNames {
				trig := detectors[name].sample(s.buttons.pressed(name), now)
				if trig == nil {
					continue
				}
				slog.Debug("Button released", "id", trig.ID, "held", trig.Value)
				s.emitTrigger(trig)
				s.power.wake()
			}
		}
	}
}

func (s *HostPlatform) DeepSleep(d time.Duration) {
	slog.Info("Entering deep sleep", "duration", d)
	s.ble.pause()
	s.power.deepSleep(d)
	slog.Info("Deep sleep over")
}

func (s *HostPlatform) PowerCycle() {
	slog.Info("Power cycling the device", "mode", s.config.Power.Mode)
	s.power.powerCycle()
}

func (s *HostPlatform) Readvertise() error {
	return s.ble.readvertise()
}

func (s *HostPlatform) Advertising() bool {
	return s.ble.advertising()
}

func (s *HostPlatform) ShowReading(v int16) {
	slog.Info("Display", "reading", fmt.Sprintf("%d°C", v))
}

func (s *HostPlatform) ShowMessage(msg string) {
	slog.Info("Display", "message", msg)
}

func (s *HostPlatform) ClearDisplay() {
	slog.Debug("Display cleared")
}
