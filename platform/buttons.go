package platform

import (
	"time"

	u "tempbeacon/util"
)

// buttonReader is one GPIO backend polling the physical buttons. Which
// one is used is selected via the Buttons.GPIOLibrary config setting.
type buttonReader interface {
	// open claims the pins, given as button name to BCM pin number.
	open(pins map[string]int) error

	// pressed reports the current state of one button. The buttons sit
	// between pin and ground, so they read low while pressed.
	pressed(id string) bool

	close()
}

// holdDetector turns the stream of poll samples for one button into
// release triggers. The trigger value is the number of consecutive polls
// the button was held, so a long press and a tap come out of the same
// channel and are told apart downstream.
type holdDetector struct {
	id   string
	held int
}

func newHoldDetector(id string) *holdDetector {
	return &holdDetector{id: id}
}

// sample feeds one poll result. A trigger is returned on the release
// edge, nil otherwise.
func (h *holdDetector) sample(pressed bool, at time.Time) *u.Trigger {
	if pressed {
		h.held++
		return nil
	}
	if h.held == 0 {
		return nil
	}
	held := h.held
	h.held = 0
	return u.NewTrigger(h.id, held, at)
}
