package platform

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpioButtons reads the buttons through go-rpio, which pokes the GPIO
// memory range directly. Available as an alternative for boards where
// periph.io misbehaves.
type rpioButtons struct {
	pins map[string]rpio.Pin
}

func newRpioButtons() *rpioButtons {
	return &rpioButtons{}
}

func (r *rpioButtons) open(pins map[string]int) error {
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("failed to open GPIO memory range: %w", err)
	}
	r.pins = make(map[string]rpio.Pin, len(pins))
	for name, number := range pins {
		pin := rpio.Pin(number)
		pin.Input()
		pin.PullUp()
		r.pins[name] = pin
	}
	return nil
}

func (r *rpioButtons) pressed(id string) bool {
	pin, exist := r.pins[id]
	if !exist {
		return false
	}
	return pin.Read() == rpio.Low
}

func (r *rpioButtons) close() {
	if r.pins == nil {
		return
	}
	if err := rpio.Close(); err != nil {
		slog.Error("Error closing GPIO memory range", "error", err)
	}
	r.pins = nil
}
