package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// Transport types for outputs.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// DefaultEnvPrefix prefixes the environment overrides.
const DefaultEnvPrefix = "MEDIACOMPOSE"

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete node configuration.
type Config struct {
	Version  string         `json:"version" yaml:"version" toml:"version"`
	Instance string         `json:"instance" yaml:"instance" toml:"instance"`
	NATS     NATSConfig     `json:"nats" yaml:"nats" toml:"nats"`
	Inputs   []InputConfig  `json:"inputs" yaml:"inputs" toml:"inputs"`
	Outputs  []OutputConfig `json:"outputs" yaml:"outputs" toml:"outputs"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
	Options  Options        `json:"options" yaml:"options" toml:"options"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url" toml:"url"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects" toml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait" toml:"reconnect_wait"`
	Timeout       Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	// OptionsBucket is the KV bucket watched for runtime option changes.
	// Empty disables the watch.
	OptionsBucket string `json:"options_bucket" yaml:"options_bucket" toml:"options_bucket"`
}

// InputConfig declares one input port fed from a NATS subject. The declared
// properties are the port's initial properties; envelopes on the wire may
// update them later.
type InputConfig struct {
	Name       string   `json:"name" yaml:"name" toml:"name"`
	Subject    string   `json:"subject" yaml:"subject" toml:"subject"`
	Kind       string   `json:"kind" yaml:"kind" toml:"kind"`
	Codec      string   `json:"codec,omitempty" yaml:"codec,omitempty" toml:"codec,omitempty"`
	URL        string   `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	ESID       uint32   `json:"esid,omitempty" yaml:"esid,omitempty" toml:"esid,omitempty"`
	InIOD      bool     `json:"in_iod,omitempty" yaml:"in_iod,omitempty" toml:"in_iod,omitempty"`
	Width      uint32   `json:"width,omitempty" yaml:"width,omitempty" toml:"width,omitempty"`
	Height     uint32   `json:"height,omitempty" yaml:"height,omitempty" toml:"height,omitempty"`
	SampleRate uint32   `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty" toml:"sample_rate,omitempty"`
	Channels   uint32   `json:"channels,omitempty" yaml:"channels,omitempty" toml:"channels,omitempty"`
	Upstream   []string `json:"upstream,omitempty" yaml:"upstream,omitempty" toml:"upstream,omitempty"`
	// Capacity bounds the packet queue; zero uses the port default.
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
	// Overflow is block, drop_oldest or drop_newest.
	Overflow string `json:"overflow,omitempty" yaml:"overflow,omitempty" toml:"overflow,omitempty"`
}

// StreamKind parses the declared kind.
func (ic InputConfig) StreamKind() (media.StreamKind, error) {
	return media.ParseStreamKind(ic.Kind)
}

// Properties builds the initial port properties.
func (ic InputConfig) Properties() media.Properties {
	props := media.Properties{}
	if kind, err := ic.StreamKind(); err == nil {
		props[media.PropStreamKind] = kind
	}
	codec := ic.Codec
	if codec == "" {
		codec = string(media.CodecRaw)
	}
	props[media.PropCodecID] = media.CodecID(strings.ToLower(codec))
	if ic.URL != "" {
		props[media.PropURL] = ic.URL
	}
	if ic.ESID != 0 {
		props[media.PropESID] = ic.ESID
	}
	if ic.InIOD {
		props[media.PropInIOD] = true
	}
	setNonZero(props, media.PropWidth, ic.Width)
	setNonZero(props, media.PropHeight, ic.Height)
	setNonZero(props, media.PropSampleRate, ic.SampleRate)
	setNonZero(props, media.PropChannels, ic.Channels)
	return props
}

func setNonZero(props media.Properties, key string, v uint32) {
	if v != 0 {
		props[key] = v
	}
}

// OutputConfig binds one of the compositor outputs to a transport.
type OutputConfig struct {
	// Port is vout or aout.
	Port string `json:"port" yaml:"port" toml:"port"`
	Type string `json:"type" yaml:"type" toml:"type"`
	// Subject receives envelopes when Type is nats. Capability requests are
	// read from Subject + ".caps".
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty" toml:"subject,omitempty"`
	// Addr and Path locate the websocket endpoint when Type is websocket.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Path    string `json:"path" yaml:"path" toml:"path"`
}

// Default returns a configuration with every section at its default.
func Default() *Config {
	return &Config{
		Version:  "1.0.0",
		Instance: "compositor",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
			OptionsBucket: DefaultOptionsBucket,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Options: DefaultOptions(),
	}
}

// Validate checks the whole configuration. It returns an invalid-class error
// naming the first offending field.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"Config", "Validate", "check configuration")
	}

	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return invalid("version: %v", err)
		}
	}
	if !isValidNATSSubjectPart(c.Instance) {
		return invalid("instance %q is not valid for NATS subjects", c.Instance)
	}

	needsNATS := c.NATS.OptionsBucket != ""
	seen := make(map[string]bool, len(c.Inputs))
	for i, in := range c.Inputs {
		if in.Name == "" {
			return invalid("inputs[%d]: name is required", i)
		}
		if seen[in.Name] {
			return invalid("inputs[%d]: duplicate name %q", i, in.Name)
		}
		seen[in.Name] = true
		if in.Subject == "" {
			return invalid("inputs.%s: subject is required", in.Name)
		}
		if _, err := in.StreamKind(); err != nil {
			return invalid("inputs.%s: %v", in.Name, err)
		}
		switch in.Overflow {
		case "", "block", "drop_oldest", "drop_newest":
		default:
			return invalid("inputs.%s: unknown overflow policy %q", in.Name, in.Overflow)
		}
		if in.Capacity < 0 {
			return invalid("inputs.%s: capacity must not be negative", in.Name)
		}
		needsNATS = true
	}

	ports := make(map[string]bool, len(c.Outputs))
	for i, out := range c.Outputs {
		if out.Port != "vout" && out.Port != "aout" {
			return invalid("outputs[%d]: port %q must be vout or aout", i, out.Port)
		}
		if out.Port == "aout" && c.Options.NoAudio {
			return invalid("outputs[%d]: aout is bound but noaudio is set", i)
		}
		key := out.Port + "/" + out.Type
		if ports[key] {
			return invalid("outputs[%d]: %s bound twice to %s", i, out.Port, out.Type)
		}
		ports[key] = true
		switch out.Type {
		case TransportNATS:
			if out.Subject == "" {
				return invalid("outputs[%d]: subject is required for nats", i)
			}
			needsNATS = true
		case TransportWebSocket:
			if out.Addr == "" {
				return invalid("outputs[%d]: addr is required for websocket", i)
			}
		default:
			return invalid("outputs[%d]: unknown type %q", i, out.Type)
		}
	}

	if needsNATS && c.NATS.URL == "" {
		return invalid("nats.url is required")
	}
	if c.NATS.Timeout < 0 || c.NATS.ReconnectWait < 0 {
		return invalid("nats: durations must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}

	return c.Options.Validate()
}

// NeedsNATS reports whether any configured part uses NATS.
func (c *Config) NeedsNATS() bool {
	if len(c.Inputs) > 0 || c.NATS.OptionsBucket != "" {
		return true
	}
	for _, out := range c.Outputs {
		if out.Type == TransportNATS {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.Inputs = make([]InputConfig, len(c.Inputs))
	for i, in := range c.Inputs {
		in.Upstream = append([]string(nil), in.Upstream...)
		clone.Inputs[i] = in
	}
	clone.Outputs = append([]OutputConfig(nil), c.Outputs...)
	return &clone
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Loader reads configuration layers in order; later layers override the
// fields they set. Environment overrides are applied last.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load reads a single file with validation.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

// Load merges every layer over the defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	for _, path := range l.layers {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f := formatOf(path)
	if f == formatUnknown {
		return errors.WrapInvalid(fmt.Errorf("unsupported config format %q: %w", filepath.Ext(path), errors.ErrInvalidConfig),
			"Loader", "Load", "select decoder")
	}
	data, err := readConfigFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read "+filepath.Base(path))
	}
	if err := checkStructure(f, data); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%s: %w: %v", filepath.Base(path), errors.ErrParsingFailed, err),
			"Loader", "Load", "check structure")
	}

	switch f {
	case formatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case formatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	case formatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	}
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%s: %w: %v", filepath.Base(path), errors.ErrParsingFailed, err),
			"Loader", "Load", "decode config")
	}
	return nil
}

// applyEnvOverrides applies <PREFIX>_NATS_URL, <PREFIX>_INSTANCE,
// <PREFIX>_METRICS_ADDR and <PREFIX>_DURATION.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		v, ok := l.lookupEnv(key)
		if !ok || v == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, v); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "Load", "read environment")
		}
		return v, true, nil
	}

	if v, ok, err := lookup("NATS_URL"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URL = v
	}
	if v, ok, err := lookup("INSTANCE"); err != nil {
		return err
	} else if ok {
		cfg.Instance = v
	}
	if v, ok, err := lookup("METRICS_ADDR"); err != nil {
		return err
	} else if ok {
		cfg.Metrics.Addr = v
	}
	if v, ok, err := lookup("DURATION"); err != nil {
		return err
	} else if ok {
		dur, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_DURATION: %w", l.envPrefix, errors.ErrInvalidConfig),
				"Loader", "Load", "parse duration policy")
		}
		cfg.Options.Duration = dur
	}
	return nil
}

// SaveToFile writes the configuration in the format implied by the extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case formatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
	case formatYAML:
		data, err = yaml.Marshal(c)
	case formatTOML:
		data, err = toml.Marshal(c)
	default:
		return errors.WrapInvalid(fmt.Errorf("unsupported config format %q: %w", filepath.Ext(path), errors.ErrInvalidConfig),
			"Config", "SaveToFile", "select encoder")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode config")
	}
	if err := writeConfigFile(path, data); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "write "+filepath.Base(path))
	}
	return nil
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	major1, minor1, patch1, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v1, err)
	}
	major2, minor2, patch2, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v2, err)
	}

	for _, pair := range [][2]int{{major1, major2}, {minor1, minor2}, {patch1, patch2}} {
		switch {
		case pair[0] < pair[1]:
			return -1, nil
		case pair[0] > pair[1]:
			return 1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	version = strings.TrimPrefix(version, "v")
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected major.minor.patch, got %q", version)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component %q", p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
