package config

// RuntimeConfig defines the subset of the configuration that can be
// safely modified at runtime through the web API. It excludes the BLE
// stack selection, GPIO wiring and other settings that only take effect
// at boot.
type RuntimeConfig struct {
	DutyCycle  DutyCycleConfig  `yaml:"DutyCycle" json:"DutyCycle"`
	Recovery   RecoveryConfig   `yaml:"Recovery" json:"Recovery"`
	NightWatch NightWatchConfig `yaml:"NightWatch" json:"NightWatch"`
	Telemetry  TelemetryConfig  `yaml:"Telemetry" json:"Telemetry"`
}
