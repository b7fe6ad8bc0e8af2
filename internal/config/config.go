// Package config loads the cmd/channelsrv YAML configuration describing the
// channels to start, their video formats, and the consumers to attach.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

// Config is the top-level YAML document.
type Config struct {
	Channels []ChannelConfig `yaml:"channels"`
	Status   StatusConfig    `yaml:"status,omitempty"`
}

// ChannelConfig describes one channel to start.
type ChannelConfig struct {
	Index     int              `yaml:"index"`
	Format    VideoFormatYAML  `yaml:"format"`
	Layers    []LayerConfig    `yaml:"layers,omitempty"`
	Consumers []ConsumerConfig `yaml:"consumers,omitempty"`
}

// LayerConfig describes one layer to load (and optionally play) at
// startup, via a registered producer factory (§6 `load`/`play`).
type LayerConfig struct {
	ID       int      `yaml:"id"`
	Producer string   `yaml:"producer"`
	Params   []string `yaml:"params,omitempty"`
	AutoPlay bool     `yaml:"autoplay,omitempty"`
}

// VideoFormatYAML mirrors pixfmt.VideoFormat in a YAML-friendly shape
// (field_mode as a name rather than an enum int).
type VideoFormatYAML struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Field   string `yaml:"field,omitempty"` // "progressive" (default), "upper", "lower"
	FPS     float64 `yaml:"fps"`
	Cadence []int  `yaml:"cadence"`
}

// ToVideoFormat converts the YAML shape into a pixfmt.VideoFormat, defaulting
// field mode to progressive.
func (v VideoFormatYAML) ToVideoFormat() (pixfmt.VideoFormat, error) {
	field := pixfmt.Progressive
	switch v.Field {
	case "", "progressive":
		field = pixfmt.Progressive
	case "upper":
		field = pixfmt.UpperFieldFirst
	case "lower":
		field = pixfmt.LowerFieldFirst
	default:
		return pixfmt.VideoFormat{}, fmt.Errorf("config: unknown field mode %q", v.Field)
	}
	f := pixfmt.VideoFormat{
		Width: v.Width, Height: v.Height,
		Field: field, FPS: v.FPS, Cadence: v.Cadence,
	}
	if err := f.Validate(); err != nil {
		return pixfmt.VideoFormat{}, err
	}
	return f, nil
}

// ConsumerConfig describes one consumer to attach to a channel's output
// slot at load time. Name selects a registry.ConsumerFactory; Params is
// passed through verbatim.
type ConsumerConfig struct {
	Slot   int      `yaml:"slot"`
	Name   string   `yaml:"name"`
	Params []string `yaml:"params,omitempty"`
}

// StatusConfig configures the optional external status endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// Load reads and parses the YAML config at path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
