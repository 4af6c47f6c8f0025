package beacon

import (
	"time"

	u "tempbeacon/util"
)

// Hardware is the device-facing view of a platform: buttons in, display
// out, power and advertising control. Both the host platform and the TUI
// simulation implement it.
type Hardware interface {
	// ButtonEvents returns the channel button triggers arrive on.
	ButtonEvents() <-chan *u.Trigger

	// DeepSleep suspends the caller for the duration or until the
	// platform's wake source fires, whichever comes first.
	DeepSleep(d time.Duration)

	// PowerCycle performs the full reset. In system power mode the
	// machine reboots and this never meaningfully returns; in process
	// mode it posts a cold-restart request and returns.
	PowerCycle()

	// Readvertise restarts BLE advertising after a disconnect or a wake.
	Readvertise() error

	// Advertising reports whether the peripheral currently advertises.
	Advertising() bool

	ShowReading(v int16)
	ShowMessage(msg string)
	ClearDisplay()

	// PushStatus feeds one named status field to the platform's status
	// surface (the TUI status pane; unused on the host).
	PushStatus(key, value string)
}
