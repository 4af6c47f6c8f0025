package platform

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api/service"
	"github.com/muka/go-bluetooth/bluez/profile/agent"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"

	c "tempbeacon/config"
)

// sigBaseUUIDSuffix is the tail of the Bluetooth SIG base UUID that short
// UUIDs like 2a6e expand onto.
const sigBaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// advertiseTimeout caps a single LEAdvertisement registration in seconds.
// BlueZ treats the field as uint16, so this is the longest we can ask
// for; a readvertise arms a fresh registration anyway.
const advertiseTimeout = uint32(1<<16 - 1)

// bluezStack exposes the peripheral through the BlueZ GATT manager over
// D-Bus. Unlike the tinygo backend it delivers a true per-read callback,
// so every central read is served a freshly generated value. Connects and
// disconnects are picked up from Device1 PropertiesChanged signals on the
// system bus, which is how BlueZ announces them.
type bluezStack struct {
	conf c.BLEConfig

	// Guards app and cancelAdv
	mu        sync.Mutex
	app       *service.App
	cancelAdv func()

	conn      *dbus.Conn
	signals   chan *dbus.Signal
	watchDone chan struct{}
}

func newBluezStack(conf c.BLEConfig) *bluezStack {
	return &bluezStack{conf: conf}
}

func (b *bluezStack) start(handler BLEHandler) error {
	app, err := service.NewApp(service.AppOptions{
		AdapterID:  b.conf.Adapter,
		AgentCaps:  agent.CapNoInputNoOutput,
		UUIDSuffix: sigBaseUUIDSuffix,
		UUID:       "0000",
	})
	if err != nil {
		return fmt.Errorf("failed to create bluez app: %w", err)
	}
	app.SetName(b.conf.DeviceName)

	if err := b.exposeService(app, handler); err != nil {
		app.Close()
		return err
	}

	if err := app.Run(); err != nil {
		app.Close()
		return fmt.Errorf("failed to run bluez app: %w", err)
	}

	if err := b.watchConnections(handler); err != nil {
		app.Close()
		return err
	}

	b.mu.Lock()
	b.app = app
	b.mu.Unlock()

	return b.readvertise()
}

// exposeService registers the temperature service: one read-only
// characteristic plus the user description descriptor.
func (b *bluezStack) exposeService(app *service.App, handler BLEHandler) error {
	svc, err := app.NewService("9411")
	if err != nil {
		return fmt.Errorf("failed to create gatt service: %w", err)
	}
	// The service carries the full custom UUID from the config, not a
	// SIG-derived one.
	svc.Properties.UUID = strings.ToUpper(b.conf.ServiceUUID)
	if err := app.AddService(svc); err != nil {
		return fmt.Errorf("failed to register gatt service: %w", err)
	}

	char, err := svc.NewChar(temperatureCharUUID)
	if err != nil {
		return fmt.Errorf("failed to create temperature characteristic: %w", err)
	}
	char.Properties.Flags = []string{gatt.FlagCharacteristicRead}
	char.OnRead(service.CharReadCallback(func(_ *service.Char, _ map[string]interface{}) ([]byte, error) {
		return handler.OnCharacteristicRead(), nil
	}))
	if err := svc.AddChar(char); err != nil {
		return fmt.Errorf("failed to register temperature characteristic: %w", err)
	}

	descr, err := char.NewDescr(userDescriptionUUID)
	if err != nil {
		return fmt.Errorf("failed to create user description: %w", err)
	}
	descr.Properties.Flags = []string{gatt.FlagDescriptorRead}
	descr.OnRead(service.DescrReadCallback(func(_ *service.Descr, _ map[string]interface{}) ([]byte, error) {
		return []byte(claimedRange), nil
	}))
	if err := char.AddDescr(descr); err != nil {
		return fmt.Errorf("failed to register user description: %w", err)
	}
	return nil
}

// watchConnections subscribes to Device1 property changes below
// /org/bluez. BlueZ flips the Connected property when a central attaches
// or goes away; there is no dedicated callback for peripherals.
func (b *bluezStack) watchConnections(handler BLEHandler) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/bluez"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to match bluez signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for sig := range signals {
			connected, client, ok := parseConnectedChange(sig)
			if !ok {
				continue
			}
			if connected {
				handler.OnConnect(client)
			} else {
				handler.OnDisconnect(client)
			}
		}
		slog.Info("Ending ConnectionWatcher go-routine...")
	}()

	b.conn = conn
	b.signals = signals
	b.watchDone = done
	return nil
}

// parseConnectedChange extracts a Device1 Connected flip from a
// PropertiesChanged signal, with the client MAC derived from the object
// path (/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF).
func parseConnectedChange(sig *dbus.Signal) (connected bool, client string, ok bool) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
		return false, "", false
	}
	iface, isStr := sig.Body[0].(string)
	if !isStr || iface != "org.bluez.Device1" {
		return false, "", false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return false, "", false
	}
	v, exist := changed["Connected"]
	if !exist {
		return false, "", false
	}
	connected, isBool := v.Value().(bool)
	if !isBool {
		return false, "", false
	}
	path := string(sig.Path)
	base := path[strings.LastIndex(path, "/")+1:]
	client = strings.ReplaceAll(strings.TrimPrefix(base, "dev_"), "_", ":")
	return connected, client, true
}

func (b *bluezStack) pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelAdv != nil {
		b.cancelAdv()
		b.cancelAdv = nil
	}
}

func (b *bluezStack) readvertise() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return fmt.Errorf("bluez app not started")
	}
	if b.cancelAdv != nil {
		b.cancelAdv()
		b.cancelAdv = nil
	}
	// Note: BlueZ ignores any requested advertising interval, so the
	// BLE.AdvertiseInterval setting only applies to the tinygo stack.
	cancel, err := b.app.Advertise(advertiseTimeout)
	if err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	b.cancelAdv = cancel
	slog.Debug("Advertising started", "name", b.conf.DeviceName)
	return nil
}

func (b *bluezStack) advertising() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelAdv != nil
}

func (b *bluezStack) stop() {
	b.mu.Lock()
	cancel, app := b.cancelAdv, b.app
	b.cancelAdv, b.app = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if b.conn != nil {
		b.conn.RemoveSignal(b.signals)
		close(b.signals)
		<-b.watchDone
		b.conn.Close()
		b.conn = nil
	}
	if app != nil {
		app.Close()
	}
}
