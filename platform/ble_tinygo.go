package platform

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	c "tempbeacon/config"
)

// tinygoStack drives the peripheral through tinygo.org/x/bluetooth. The
// library has no per-read callback, so the temperature characteristic
// serves a cached value. A companion write-only refresh characteristic
// lets the central request a fresh reading: write a byte, then read the
// temperature. The write also counts as activity, exactly as a direct
// read would on the bluez stack.
type tinygoStack struct {
	conf    c.BLEConfig
	adapter *bluetooth.Adapter

	tempChar bluetooth.Characteristic

	// Guards adv and active
	mu     sync.Mutex
	adv    *bluetooth.Advertisement
	active bool
}

func newTinygoStack(conf c.BLEConfig) *tinygoStack {
	return &tinygoStack{conf: conf, adapter: bluetooth.DefaultAdapter}
}

func (t *tinygoStack) start(handler BLEHandler) error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			handler.OnConnect(device.Address.String())
		} else {
			handler.OnDisconnect(device.Address.String())
		}
	})

	serviceUUID, err := uuid.Parse(t.conf.ServiceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", t.conf.ServiceUUID, err)
	}

	svc := bluetooth.Service{
		UUID: bluetooth.NewUUID(serviceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &t.tempChar,
				UUID:   bluetooth.New16BitUUID(0x2A6E),
				Value:  []byte{0, 0},
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  bluetooth.NewUUID(refreshUUID(serviceUUID)),
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					if offset != 0 || len(value) == 0 {
						return
					}
					if _, err := t.tempChar.Write(handler.OnCharacteristicRead()); err != nil {
						slog.Error("Failed to update temperature value", "error", err)
					}
				},
			},
		},
	}
	if err := t.adapter.AddService(&svc); err != nil {
		return fmt.Errorf("failed to register gatt service: %w", err)
	}

	adv := t.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    t.conf.DeviceName,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.NewUUID(serviceUUID)},
		Interval:     bluetooth.NewDuration(t.conf.AdvertiseInterval),
	}); err != nil {
		return fmt.Errorf("failed to configure advertisement: %w", err)
	}

	t.mu.Lock()
	t.adv = adv
	t.mu.Unlock()
	return t.readvertise()
}

// refreshUUID derives the refresh characteristic UUID from the service
// UUID by bumping the last byte, keeping the pair visibly related in
// scans.
func refreshUUID(service uuid.UUID) uuid.UUID {
	service[15]++
	return service
}

func (t *tinygoStack) pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.adv == nil || !t.active {
		return
	}
	if err := t.adv.Stop(); err != nil {
		slog.Error("Failed to stop advertising", "error", err)
		return
	}
	t.active = false
}

func (t *tinygoStack) readvertise() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.adv == nil {
		return fmt.Errorf("advertisement not configured")
	}
	if t.active {
		if err := t.adv.Stop(); err != nil {
			slog.Debug("Stopping stale advertisement failed", "error", err)
		}
		t.active = false
	}
	if err := t.adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	t.active = true
	slog.Debug("Advertising started", "name", t.conf.DeviceName)
	return nil
}

func (t *tinygoStack) advertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *tinygoStack) stop() {
	t.pause()
}
