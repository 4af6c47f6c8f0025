package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

// Timing constants inherited from the original firmware: two seconds awake
// after a toggle, two seconds asleep per duty cycle (the alternate
// deployment used four), eight seconds of grace after any BLE activity.
const (
	DefaultAwakeTime       = 2 * time.Second
	DefaultSleepTime       = 2 * time.Second
	DefaultActivityTimeout = 8 * time.Second
)

// Recovery strategies applied after a client disconnect.
const (
	RecoveryReadvertise = "readvertise"
	RecoveryPowerCycle  = "powercycle"
)

// BLE stack backends.
const (
	StackBlueZ  = "bluez"
	StackTinyGo = "tinygo"
)

// GPIO libraries for the button inputs.
const (
	GPIOPeriph = "periph.io"
	GPIORpio   = "go-rpio"
)

// Power unit modes. "process" keeps sleep and reset inside the daemon,
// "system" uses rtcwake and a real reboot.
const (
	PowerProcess = "process"
	PowerSystem  = "system"
)

// Button identifiers; also the required keys of Buttons.Pins.
const (
	ButtonA = "A" // clear display
	ButtonB = "B" // toggle duty cycle (hold)
	ButtonC = "C" // full reset (hold)
)

type DutyCycleConfig struct {
	EnabledAtBoot   bool          `yaml:"EnabledAtBoot" json:"EnabledAtBoot"`
	AwakeTime       time.Duration `yaml:"AwakeTime" json:"AwakeTime"`
	SleepTime       time.Duration `yaml:"SleepTime" json:"SleepTime"`
	ActivityTimeout time.Duration `yaml:"ActivityTimeout" json:"ActivityTimeout"`
	PollInterval    time.Duration `yaml:"PollInterval" json:"PollInterval"`
}

type RecoveryConfig struct {
	Strategy   string        `yaml:"Strategy" json:"Strategy"`
	RestartNap time.Duration `yaml:"RestartNap" json:"RestartNap"`
}

type BLEConfig struct {
	Stack             string        `yaml:"Stack"`
	Adapter           string        `yaml:"Adapter"`
	DeviceName        string        `yaml:"DeviceName"`
	ServiceUUID       string        `yaml:"ServiceUUID"`
	AdvertiseInterval time.Duration `yaml:"AdvertiseInterval"`
}

type ButtonsConfig struct {
	GPIOLibrary  string         `yaml:"GPIOLibrary"`
	PollInterval time.Duration  `yaml:"PollInterval"`
	HoldCount    int            `yaml:"HoldCount"`
	Pins         map[string]int `yaml:"Pins"`
}

type PowerConfig struct {
	Mode string `yaml:"Mode"`
}

type HistoryConfig struct {
	Size int `yaml:"Size"`
}

type NightWatchConfig struct {
	Enabled   bool    `yaml:"Enabled" json:"Enabled"`
	Latitude  float64 `yaml:"Latitude" json:"Latitude"`
	Longitude float64 `yaml:"Longitude" json:"Longitude"`
}

type TelemetryConfig struct {
	Enabled        bool          `yaml:"Enabled" json:"Enabled"`
	Broker         string        `yaml:"Broker" json:"Broker"`
	Topic          string        `yaml:"Topic" json:"Topic"`
	ClientID       string        `yaml:"ClientID" json:"ClientID"`
	ConnectTimeout time.Duration `yaml:"ConnectTimeout" json:"ConnectTimeout"`
	PublishTimeout time.Duration `yaml:"PublishTimeout" json:"PublishTimeout"`
}

type WebConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Listen  string `yaml:"Listen"`
}

type RetainConfig struct {
	Path string `yaml:"Path"`
}

type LogSectionConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

type LoggingConfig struct {
	TUI LogSectionConfig `yaml:"TUI"`
	HW  LogSectionConfig `yaml:"HW"`
}

type Config struct {
	DutyCycle  DutyCycleConfig  `yaml:"DutyCycle" json:"DutyCycle"`
	Recovery   RecoveryConfig   `yaml:"Recovery" json:"Recovery"`
	BLE        BLEConfig        `yaml:"BLE" json:"BLE"`
	Buttons    ButtonsConfig    `yaml:"Buttons" json:"Buttons"`
	Power      PowerConfig      `yaml:"Power" json:"Power"`
	History    HistoryConfig    `yaml:"History" json:"History"`
	NightWatch NightWatchConfig `yaml:"NightWatch" json:"NightWatch"`
	Telemetry  TelemetryConfig  `yaml:"Telemetry" json:"Telemetry"`
	Web        WebConfig        `yaml:"Web" json:"Web"`
	Retain     RetainConfig     `yaml:"Retain" json:"Retain"`
	Logging    LoggingConfig    `yaml:"Logging" json:"Logging"`
}

// DefaultConfig returns the built-in defaults. ReadConfig decodes the file
// on top of these, so a sparse config file is fine.
func DefaultConfig() *Config {
	return &Config{
		DutyCycle: DutyCycleConfig{
			EnabledAtBoot:   false,
			AwakeTime:       DefaultAwakeTime,
			SleepTime:       DefaultSleepTime,
			ActivityTimeout: DefaultActivityTimeout,
			PollInterval:    250 * time.Millisecond,
		},
		Recovery: RecoveryConfig{
			Strategy:   RecoveryReadvertise,
			RestartNap: 10 * time.Millisecond,
		},
		BLE: BLEConfig{
			Stack:             StackBlueZ,
			Adapter:           "hci0",
			DeviceName:        "tempbeacon",
			ServiceUUID:       "224c9411-d6cb-4b2e-b4cb-ab687eb7de23",
			AdvertiseInterval: 100 * time.Millisecond,
		},
		Buttons: ButtonsConfig{
			GPIOLibrary:  GPIOPeriph,
			PollInterval: 50 * time.Millisecond,
			HoldCount:    5,
			Pins:         map[string]int{ButtonA: 17, ButtonB: 22, ButtonC: 23},
		},
		Power: PowerConfig{
			Mode: PowerProcess,
		},
		History: HistoryConfig{
			Size: 64,
		},
		Telemetry: TelemetryConfig{
			Broker:         "tcp://localhost:1883",
			Topic:          "tempbeacon/events",
			ClientID:       "tempbeacon",
			ConnectTimeout: 5 * time.Second,
			PublishTimeout: 2 * time.Second,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
		Retain: RetainConfig{
			Path: "/run/tempbeacon/state.bin",
		},
		Logging: LoggingConfig{
			TUI: LogSectionConfig{Level: "INFO", Format: "text"},
			HW:  LogSectionConfig{Level: "INFO", Format: "tint"},
		},
	}
}

// ReadConfig loads and validates the configuration file.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := DefaultConfig()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(conf); err != nil {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.DutyCycle.AwakeTime <= 0 {
		return fmt.Errorf("DutyCycle.AwakeTime must be positive")
	}
	if c.DutyCycle.SleepTime <= 0 {
		return fmt.Errorf("DutyCycle.SleepTime must be positive")
	}
	if c.DutyCycle.ActivityTimeout <= 0 {
		return fmt.Errorf("DutyCycle.ActivityTimeout must be positive")
	}
	if c.DutyCycle.PollInterval <= 0 {
		return fmt.Errorf("DutyCycle.PollInterval must be positive")
	}

	switch c.Recovery.Strategy {
	case RecoveryReadvertise, RecoveryPowerCycle:
	default:
		return fmt.Errorf("Recovery.Strategy must be %q or %q", RecoveryReadvertise, RecoveryPowerCycle)
	}
	if c.Recovery.RestartNap <= 0 {
		return fmt.Errorf("Recovery.RestartNap must be positive")
	}

	switch c.BLE.Stack {
	case StackBlueZ, StackTinyGo:
	default:
		return fmt.Errorf("BLE.Stack must be %q or %q", StackBlueZ, StackTinyGo)
	}
	if c.BLE.Adapter == "" {
		return fmt.Errorf("BLE.Adapter must not be empty")
	}
	if c.BLE.DeviceName == "" {
		return fmt.Errorf("BLE.DeviceName must not be empty")
	}
	if _, err := uuid.Parse(c.BLE.ServiceUUID); err != nil {
		return fmt.Errorf("BLE.ServiceUUID is not a valid UUID: %w", err)
	}
	if c.BLE.AdvertiseInterval <= 0 {
		return fmt.Errorf("BLE.AdvertiseInterval must be positive")
	}

	switch c.Buttons.GPIOLibrary {
	case GPIOPeriph, GPIORpio:
	default:
		return fmt.Errorf("Buttons.GPIOLibrary must be %q or %q", GPIOPeriph, GPIORpio)
	}
	if c.Buttons.PollInterval <= 0 {
		return fmt.Errorf("Buttons.PollInterval must be positive")
	}
	if c.Buttons.HoldCount < 1 {
		return fmt.Errorf("Buttons.HoldCount must be at least 1")
	}
	for _, name := range []string{ButtonA, ButtonB, ButtonC} {
		if _, ok := c.Buttons.Pins[name]; !ok {
			return fmt.Errorf("Buttons.Pins must define a pin for button %s", name)
		}
	}
	seen := make(map[int]string, len(c.Buttons.Pins))
	names := maps.Keys(c.Buttons.Pins)
	sort.Strings(names)
	for _, name := range names {
		pin := c.Buttons.Pins[name]
		if pin < 0 {
			return fmt.Errorf("Buttons.Pins.%s must be non-negative", name)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("Buttons.Pins.%s and Buttons.Pins.%s share pin %d", other, name, pin)
		}
		seen[pin] = name
	}

	switch c.Power.Mode {
	case PowerProcess, PowerSystem:
	default:
		return fmt.Errorf("Power.Mode must be %q or %q", PowerProcess, PowerSystem)
	}

	if c.History.Size < 1 {
		return fmt.Errorf("History.Size must be at least 1")
	}

	if c.NightWatch.Enabled {
		if c.NightWatch.Latitude < -90 || c.NightWatch.Latitude > 90 {
			return fmt.Errorf("NightWatch.Latitude must be between -90 and 90")
		}
		if c.NightWatch.Longitude < -180 || c.NightWatch.Longitude > 180 {
			return fmt.Errorf("NightWatch.Longitude must be between -180 and 180")
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Broker == "" {
			return fmt.Errorf("Telemetry.Broker must not be empty")
		}
		if c.Telemetry.Topic == "" {
			return fmt.Errorf("Telemetry.Topic must not be empty")
		}
		if c.Telemetry.ClientID == "" {
			return fmt.Errorf("Telemetry.ClientID must not be empty")
		}
		if c.Telemetry.ConnectTimeout <= 0 || c.Telemetry.PublishTimeout <= 0 {
			return fmt.Errorf("Telemetry timeouts must be positive")
		}
	}

	if c.Web.Enabled && c.Web.Listen == "" {
		return fmt.Errorf("Web.Listen must not be empty")
	}

	if c.Retain.Path == "" {
		return fmt.Errorf("Retain.Path must not be empty")
	}

	for _, section := range []struct {
		name string
		cfg  LogSectionConfig
	}{{"TUI", c.Logging.TUI}, {"HW", c.Logging.HW}} {
		switch strings.ToLower(section.cfg.Format) {
		case "text", "json", "tint":
		default:
			return fmt.Errorf("Logging.%s.Format must be one of text, json, tint", section.name)
		}
	}

	return nil
}
