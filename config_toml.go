package rudp

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
)

// tomlConfig is the on-disk shape LoadConfigFile decodes: a flat TOML
// document with duration fields written as strings ("5s", "100ms") rather
// than raw integers. Millisecond ints are kept for options that are
// naturally millisecond-scale (rtt_max_value_ms).
type tomlConfig struct {
	ProtocolVersion                string
	BlockingMode                   bool
	IdleConnectionTimeout          string
	UnestablishedConnectionTimeout string
	HeartbeatInterval              string
	MaxPacketsInFlight             int
	FragmentSize                   int
	FragmentReassemblyTimeout      string
	ReceiveBufferMaxSize           int
	RTTSmoothingFactor             float64
	RTTMaxValueMS                  int
	ResendFloor                    string
	SocketEventBufferSize          int
	MaxUnestablishedConnections    int
	PollingIdleSleep               string
	MaxPacketsPerTick              int
	ReceiveTimeout                 string
}

// LoadConfigFile decodes a TOML document at path into a Config, starting
// from DefaultConfig for anything the file omits. Grounded on the
// BurntSushi/toml dependency katzenpost's mailproxy carries for its own
// [Proxy]-style configuration file.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw tomlConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	if meta.IsDefined("ProtocolVersion") {
		cfg.ProtocolVersion = raw.ProtocolVersion
	}
	if meta.IsDefined("BlockingMode") {
		cfg.BlockingMode = raw.BlockingMode
	}
	if meta.IsDefined("MaxPacketsInFlight") {
		cfg.MaxPacketsInFlight = raw.MaxPacketsInFlight
	}
	if meta.IsDefined("FragmentSize") {
		cfg.FragmentSize = raw.FragmentSize
	}
	if meta.IsDefined("ReceiveBufferMaxSize") {
		cfg.ReceiveBufferMaxSize = raw.ReceiveBufferMaxSize
	}
	if meta.IsDefined("RTTSmoothingFactor") {
		cfg.RTTSmoothingFactor = raw.RTTSmoothingFactor
	}
	if meta.IsDefined("RTTMaxValueMS") {
		cfg.RTTMaxValueMS = raw.RTTMaxValueMS
	}
	if meta.IsDefined("SocketEventBufferSize") {
		cfg.SocketEventBufferSize = raw.SocketEventBufferSize
	}
	if meta.IsDefined("MaxUnestablishedConnections") {
		cfg.MaxUnestablishedConnections = raw.MaxUnestablishedConnections
	}
	if meta.IsDefined("MaxPacketsPerTick") {
		cfg.MaxPacketsPerTick = raw.MaxPacketsPerTick
	}

	for field, dst := range map[string]*time.Duration{
		"IdleConnectionTimeout":          &cfg.IdleConnectionTimeout,
		"UnestablishedConnectionTimeout": &cfg.UnestablishedConnectionTimeout,
		"HeartbeatInterval":              &cfg.HeartbeatInterval,
		"FragmentReassemblyTimeout":      &cfg.FragmentReassemblyTimeout,
		"ResendFloor":                    &cfg.ResendFloor,
		"PollingIdleSleep":               &cfg.PollingIdleSleep,
		"ReceiveTimeout":                 &cfg.ReceiveTimeout,
	} {
		if !meta.IsDefined(field) {
			continue
		}
		raw := rawDurationField(raw, field)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s=%q: %w", field, raw, err)
		}
		*dst = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rawDurationField reads one of tomlConfig's string-typed duration fields
// by name, used so LoadConfigFile's duration loop above doesn't repeat
// itself field by field.
func rawDurationField(raw tomlConfig, field string) string {
	switch field {
	case "IdleConnectionTimeout":
		return raw.IdleConnectionTimeout
	case "UnestablishedConnectionTimeout":
		return raw.UnestablishedConnectionTimeout
	case "HeartbeatInterval":
		return raw.HeartbeatInterval
	case "FragmentReassemblyTimeout":
		return raw.FragmentReassemblyTimeout
	case "ResendFloor":
		return raw.ResendFloor
	case "PollingIdleSleep":
		return raw.PollingIdleSleep
	case "ReceiveTimeout":
		return raw.ReceiveTimeout
	default:
		return ""
	}
}

// ApplyOverrides merges ad hoc key/value overrides (for example, parsed
// from CLI flags or environment variables) onto cfg using
// github.com/mitchellh/mapstructure, a direct teacher dependency, instead
// of a hand-rolled reflection-based merge. Keys match Config's field names.
func ApplyOverrides(cfg *Config, overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("building override decoder: %w", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("applying config overrides: %w", err)
	}
	return cfg.validate()
}
