package platform

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphButtons reads the buttons through the periph.io stack.
type periphButtons struct {
	pins map[string]gpio.PinIO
}

func newPeriphButtons() *periphButtons {
	return &periphButtons{}
}

func (p *periphButtons) open(pins map[string]int) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	p.pins = make(map[string]gpio.PinIO, len(pins))
	for name, number := range pins {
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", number))
		if pin == nil {
			return fmt.Errorf("failed to find GPIO%d for button %s", number, name)
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("failed to configure GPIO%d as input: %w", number, err)
		}
		p.pins[name] = pin
	}
	return nil
}

func (p *periphButtons) pressed(id string) bool {
	pin, exist := p.pins[id]
	if !exist {
		return false
	}
	return pin.Read() == gpio.Low
}

func (p *periphButtons) close() {
	for _, pin := range p.pins {
		pin.Halt()
	}
	p.pins = nil
}
