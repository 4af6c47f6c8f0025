// Package telemetry forwards device events to an MQTT broker. It is an
// optional observer: the device runs identically with or without it, and
// a slow or absent broker never stalls the BLE callbacks.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"tempbeacon/beacon"
	c "tempbeacon/config"
)

// message is the wire form of a device event. Pointer fields are only
// present for the event kinds that carry them.
type message struct {
	ID      string    `json:"id"`
	Device  string    `json:"device"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Session string    `json:"session,omitempty"`
	Reading *int16    `json:"reading_c,omitempty"`
	Enabled *bool     `json:"duty_cycle,omitempty"`
	NapMS   int64     `json:"nap_ms,omitempty"`
}

// Publisher implements beacon.Sink over MQTT. Publishing is asynchronous;
// events that arrive while the broker is unreachable are dropped.
type Publisher struct {
	client mqtt.Client
	conf   c.TelemetryConfig
	device string

	mu        sync.RWMutex
	connected bool
}

func NewPublisher(conf c.TelemetryConfig, device string) *Publisher {
	p := &Publisher{conf: conf, device: device}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID(conf.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		slog.Info("Telemetry broker connected", "broker", conf.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		slog.Warn("Telemetry broker connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect starts the initial connection attempt. The client keeps
// retrying in the background, so an unreachable broker delays telemetry
// but never fails device startup.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.conf.ConnectTimeout) {
		slog.Warn("Telemetry broker not reachable yet, retrying in the background",
			"broker", p.conf.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("can't connect to telemetry broker %s: %w", p.conf.Broker, err)
	}
	return nil
}

// Publish forwards one event. It returns immediately; delivery happens on
// its own goroutine so a stalled broker can't hold up the caller.
func (p *Publisher) Publish(ev beacon.Event) {
	data, err := encodeEvent(p.device, ev)
	if err != nil {
		slog.Error("Can't encode telemetry event", "kind", ev.Kind, "error", err)
		return
	}
	go p.deliver(ev.Kind, data)
}

func (p *Publisher) deliver(kind beacon.EventKind, data []byte) {
	if !p.isConnected() {
		slog.Debug("Telemetry event dropped while disconnected", "kind", kind)
		return
	}
	token := p.client.Publish(p.conf.Topic, 1, false, data)
	if !token.WaitTimeout(p.conf.PublishTimeout) {
		slog.Warn("Telemetry publish timed out", "topic", p.conf.Topic, "kind", kind)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("Telemetry publish failed", "topic", p.conf.Topic, "kind", kind, "error", err)
	}
}

// Close disconnects from the broker, allowing a short quiesce for
// in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.setConnected(false)
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func encodeEvent(device string, ev beacon.Event) ([]byte, error) {
	m := message{
		ID:      uuid.NewString(),
		Device:  device,
		Kind:    string(ev.Kind),
		At:      ev.At,
		Session: ev.Session,
		Reading: ev.Reading,
		Enabled: ev.Enabled,
	}
	if ev.Nap > 0 {
		m.NapMS = ev.Nap.Milliseconds()
	}
	return json.Marshal(m)
}
