// Package cliconfig loads the YAML configuration file the racecm demo
// CLI's run command accepts, grounded on the teacher's cli/config
// package: a Duration wrapper with custom YAML unmarshalling, a
// top-level Config struct, and ${VAR}/${VAR:-default} environment
// expansion before decoding (SPEC_FULL.md, "DOMAIN STACK"/demo CLI).
package cliconfig

import (
	"fmt"
	"time"
)

// Config is a racecm.yaml file: a composition descriptor, the fixed
// wire mode, lifecycle tuning, and optional status-adapter fan-out.
// Every field is optional; Default fills in a runnable composition.
type Config struct {
	ChannelGID string   `yaml:"channel_gid"`
	Transport  string   `yaml:"transport"`
	UserModel  string   `yaml:"user_model"`
	Encodings  []string `yaml:"encodings"`
	NodeKind   string   `yaml:"node_kind"`
	Platform   string   `yaml:"platform"`
	Arch       string   `yaml:"arch"`

	// Mode selects the wire framing policy: single, batch,
	// fragment_single_producer, or fragment_multi_producer.
	Mode string `yaml:"mode"`

	// ActionPeriod and ActionWindow drive the demo UserModel's
	// schedule: one action every ActionPeriod, looking ActionWindow
	// seconds ahead.
	ActionPeriod Duration `yaml:"action_period"`
	ActionWindow Duration `yaml:"action_window"`

	// MaxEncodedBytes bounds each action's wire payload, the demo
	// Encoding's Properties() return value.
	MaxEncodedBytes int `yaml:"max_encoded_bytes"`

	ActivationTimeout Duration `yaml:"activation_timeout"`
	RecorderInterval  Duration `yaml:"recorder_interval"`

	Snapshot SnapshotConfig  `yaml:"snapshot"`
	Adapters []AdapterConfig `yaml:"adapters"`
}

// SnapshotConfig selects the flight recorder's sink.
type SnapshotConfig struct {
	// Sink is "memory" (default) or "s3".
	Sink string   `yaml:"sink"`
	S3   S3Config `yaml:"s3"`
}

// S3Config mirrors snapshot.S3Config's fields for YAML loading.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Dataset      string `yaml:"dataset"`
}

// AdapterConfig holds one status-adapter definition from the config
// file, mirroring the teacher's AdapterConfig shape.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config that runs standalone with no file: a
// single-link demo composition on the fragment-single-producer wire
// mode, an in-memory snapshot sink, and no adapters.
func Default() Config {
	return Config{
		ChannelGID:        "demo-channel",
		Transport:         "demo-transport",
		UserModel:         "demo-user-model",
		Encodings:         []string{"demo-encoding"},
		NodeKind:          "desktop",
		Platform:          "linux",
		Arch:              "amd64",
		Mode:              "fragment_single_producer",
		ActionPeriod:      Duration{500 * time.Millisecond},
		ActionWindow:      Duration{5 * time.Second},
		MaxEncodedBytes:   256,
		ActivationTimeout: Duration{10 * time.Second},
		RecorderInterval:  Duration{2 * time.Second},
		Snapshot:          SnapshotConfig{Sink: "memory"},
	}
}

// applyDefaults fills zero-valued fields with Default()'s values,
// letting a partial config file override only what it names.
func (c *Config) applyDefaults() {
	d := Default()
	if c.ChannelGID == "" {
		c.ChannelGID = d.ChannelGID
	}
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.UserModel == "" {
		c.UserModel = d.UserModel
	}
	if len(c.Encodings) == 0 {
		c.Encodings = d.Encodings
	}
	if c.NodeKind == "" {
		c.NodeKind = d.NodeKind
	}
	if c.Platform == "" {
		c.Platform = d.Platform
	}
	if c.Arch == "" {
		c.Arch = d.Arch
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ActionPeriod.Duration == 0 {
		c.ActionPeriod = d.ActionPeriod
	}
	if c.ActionWindow.Duration == 0 {
		c.ActionWindow = d.ActionWindow
	}
	if c.MaxEncodedBytes == 0 {
		c.MaxEncodedBytes = d.MaxEncodedBytes
	}
	if c.ActivationTimeout.Duration == 0 {
		c.ActivationTimeout = d.ActivationTimeout
	}
	if c.RecorderInterval.Duration == 0 {
		c.RecorderInterval = d.RecorderInterval
	}
	if c.Snapshot.Sink == "" {
		c.Snapshot.Sink = d.Snapshot.Sink
	}
}
