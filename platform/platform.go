package platform

import (
	"tempbeacon/beacon"
)

// BLEHandler receives the GATT lifecycle callbacks from whichever BLE
// stack (or the TUI pretending to be a central) is driving the
// peripheral. The device's session manager implements it.
type BLEHandler interface {
	// OnConnect is called when a central connects to the peripheral.
	OnConnect(client string)

	// OnDisconnect is called when a central goes away, cleanly or not.
	OnDisconnect(client string)

	// OnCharacteristicRead is called when a central reads the
	// temperature characteristic. It returns the encoded value to serve.
	OnCharacteristicRead() []byte
}

// Platform defines the interface for abstracting away the real hardware
// from the TUI simulation. It extends the device-facing Hardware surface
// with the lifecycle the application manages.
type Platform interface {
	beacon.Hardware

	// Start initializes the platform (e.g., opens GPIO, brings up the
	// BLE stack, or starts the TUI). SetHandler must be called before.
	Start() error

	// Stop cleans up all platform resources.
	Stop()

	// SetHandler registers the handler the BLE stack reports to.
	SetHandler(handler BLEHandler)

	// Ready returns a channel that is closed once the platform is fully
	// up. The TUI closes it after the first draw, when its log pane has
	// taken over the log output.
	Ready() <-chan bool
}
