package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

func TestLoadParsesChannelsAndConsumers(t *testing.T) {
	doc := `
channels:
  - index: 0
    format:
      width: 1920
      height: 1080
      fps: 25
      cadence: [1920]
    layers:
      - id: 0
        producer: color
        params: ["0080FFFF"]
        autoplay: true
    consumers:
      - slot: 0
        name: screen
status:
  enabled: true
  addr: ":8089"
`
	path := filepath.Join(t.TempDir(), "channelsrv.yml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(cfg.Channels) != 1 {
		t.Fatalf("len(Channels) = %d, want 1", len(cfg.Channels))
	}
	ch := cfg.Channels[0]
	if ch.Format.Width != 1920 || ch.Format.Height != 1080 {
		t.Fatalf("Format = %+v, want 1920x1080", ch.Format)
	}
	if len(ch.Layers) != 1 || ch.Layers[0].Producer != "color" || !ch.Layers[0].AutoPlay {
		t.Fatalf("Layers = %+v, want one autoplay color layer", ch.Layers)
	}
	if len(ch.Consumers) != 1 || ch.Consumers[0].Name != "screen" {
		t.Fatalf("Consumers = %+v, want one screen consumer", ch.Consumers)
	}
	if !cfg.Status.Enabled || cfg.Status.Addr != ":8089" {
		t.Fatalf("Status = %+v, want enabled on :8089", cfg.Status)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}

func TestVideoFormatYAMLFieldModes(t *testing.T) {
	cases := []struct {
		field string
		want  pixfmt.FieldMode
	}{
		{"", pixfmt.Progressive},
		{"progressive", pixfmt.Progressive},
		{"upper", pixfmt.UpperFieldFirst},
		{"lower", pixfmt.LowerFieldFirst},
	}
	for _, c := range cases {
		v := VideoFormatYAML{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}, Field: c.field}
		f, err := v.ToVideoFormat()
		if err != nil {
			t.Fatalf("field %q: %v", c.field, err)
		}
		if f.Field != c.want {
			t.Fatalf("field %q: Field = %v, want %v", c.field, f.Field, c.want)
		}
	}
}

func TestVideoFormatYAMLUnknownFieldErrors(t *testing.T) {
	v := VideoFormatYAML{Width: 2, Height: 2, FPS: 25, Cadence: []int{1}, Field: "sideways"}
	if _, err := v.ToVideoFormat(); err == nil {
		t.Fatal("expected an error for an unrecognized field mode")
	}
}

func TestVideoFormatYAMLInvalidDimensionsRejected(t *testing.T) {
	v := VideoFormatYAML{Width: 0, Height: 1080, FPS: 25, Cadence: []int{1920}}
	if _, err := v.ToVideoFormat(); err == nil {
		t.Fatal("expected Validate() to reject zero width")
	}
}
