package platform

// Short (16 bit) Bluetooth SIG UUIDs used by the GATT service.
const (
	temperatureCharUUID = "2a6e" // Temperature
	userDescriptionUUID = "2901" // Characteristic User Description
)

// claimedRange is the human-readable characteristic description. It
// states the range the original device advertised, which is wider than
// what the reading source actually emits; kept for wire compatibility
// with centrals that display it.
const claimedRange = "Temp: [-10,40]°C"

// bleStack is one BLE peripheral backend. Which one is used is selected
// via the BLE.Stack config setting.
type bleStack interface {
	// start registers the GATT service and begins advertising. The
	// handler receives connects, disconnects and characteristic reads.
	start(handler BLEHandler) error

	// pause suspends advertising while the device deep-sleeps.
	pause()

	// readvertise (re)starts advertising after a disconnect or a wake.
	readvertise() error

	// advertising reports whether the peripheral currently advertises.
	advertising() bool

	stop()
}
