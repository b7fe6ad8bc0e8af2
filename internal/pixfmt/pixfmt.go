// Package pixfmt describes the pixel and video format descriptors shared by
// every per-channel component: frame factory, mixer kernels, and consumers
// all agree on a channel's format through these two value types.
package pixfmt

import "fmt"

// Tag identifies the pixel layout of a frame or plane.
type Tag int

const (
	BGRA Tag = iota
	RGBA
	ARGB
	ABGR
	YCbCr444
	YCbCr422
	YCbCr420
	YCbCrA
)

func (t Tag) String() string {
	switch t {
	case BGRA:
		return "BGRA"
	case RGBA:
		return "RGBA"
	case ARGB:
		return "ARGB"
	case ABGR:
		return "ABGR"
	case YCbCr444:
		return "YCbCr444"
	case YCbCr422:
		return "YCbCr422"
	case YCbCr420:
		return "YCbCr420"
	case YCbCrA:
		return "YCbCrA"
	default:
		return "unknown"
	}
}

// Planar reports whether a tag describes a multi-plane layout.
func (t Tag) Planar() bool {
	switch t {
	case YCbCr444, YCbCr422, YCbCr420, YCbCrA:
		return true
	default:
		return false
	}
}

// PlaneCount returns the number of planes a frame of this tag carries.
func (t Tag) PlaneCount() int {
	if t == YCbCrA {
		return 4
	}
	if t.Planar() {
		return 3
	}
	return 1
}

// Plane describes one component plane of a pixel format: its pixel
// dimensions, the stride in bytes between rows, and the channel count
// (bytes per pixel for packed formats, 1 for planar Y/Cb/Cr/A planes).
type Plane struct {
	Width    int
	Height   int
	Stride   int
	Channels int
}

// Size returns the number of bytes a plane of these dimensions occupies.
func (p Plane) Size() int {
	return p.Stride * p.Height
}

// Descriptor is a tagged pixel layout. Equal and Key compare by semantic
// content (Tag + per-plane geometry) — two BGRA descriptors of the same
// (w,h) are equal even if built independently by different producers. The
// frame-factory pool does not key on descriptors: it buckets buffers by
// (tag, byte size, usage).
type Descriptor struct {
	Tag    Tag
	Planes []Plane
}

// NewPacked builds a single-plane packed descriptor (BGRA/RGBA/ARGB/ABGR)
// for the given dimensions, 4 bytes per pixel, tightly strided.
func NewPacked(tag Tag, width, height int) Descriptor {
	return Descriptor{
		Tag: tag,
		Planes: []Plane{
			{Width: width, Height: height, Stride: width * 4, Channels: 4},
		},
	}
}

// NewYCbCr builds a 3-plane YCbCr descriptor at the given chroma
// subsampling. Luma is always full resolution; chroma planes are halved in
// the subsampled dimension(s).
func NewYCbCr(tag Tag, width, height int) Descriptor {
	cw, ch := width, height
	switch tag {
	case YCbCr422:
		cw = (width + 1) / 2
	case YCbCr420:
		cw = (width + 1) / 2
		ch = (height + 1) / 2
	}
	return Descriptor{
		Tag: tag,
		Planes: []Plane{
			{Width: width, Height: height, Stride: width, Channels: 1},
			{Width: cw, Height: ch, Stride: cw, Channels: 1},
			{Width: cw, Height: ch, Stride: cw, Channels: 1},
		},
	}
}

// NewYCbCrA builds a 4-plane descriptor: full-resolution YCbCr444 plus a
// full-resolution alpha plane.
func NewYCbCrA(width, height int) Descriptor {
	return Descriptor{
		Tag: YCbCrA,
		Planes: []Plane{
			{Width: width, Height: height, Stride: width, Channels: 1},
			{Width: width, Height: height, Stride: width, Channels: 1},
			{Width: width, Height: height, Stride: width, Channels: 1},
			{Width: width, Height: height, Stride: width, Channels: 1},
		},
	}
}

// Equal compares two descriptors by semantic content.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.Tag != o.Tag || len(d.Planes) != len(o.Planes) {
		return false
	}
	for i := range d.Planes {
		if d.Planes[i] != o.Planes[i] {
			return false
		}
	}
	return true
}

// Key returns a comparable value suitable for use as a map key (Descriptor
// itself is not comparable because Planes is a slice; a string key
// captures the same semantic content Equal compares).
func (d Descriptor) Key() string {
	s := d.Tag.String()
	for _, p := range d.Planes {
		s += fmt.Sprintf("|%dx%d:%d:%d", p.Width, p.Height, p.Stride, p.Channels)
	}
	return s
}

// TotalSize returns the sum of all plane sizes in bytes.
func (d Descriptor) TotalSize() int {
	total := 0
	for _, p := range d.Planes {
		total += p.Size()
	}
	return total
}

// FieldMode describes whether a video format is progressive or carries
// interlaced fields, and if so which field is dominant.
type FieldMode int

const (
	Progressive FieldMode = iota
	UpperFieldFirst
	LowerFieldFirst
)

func (f FieldMode) String() string {
	switch f {
	case Progressive:
		return "progressive"
	case UpperFieldFirst:
		return "upper"
	case LowerFieldFirst:
		return "lower"
	default:
		return "unknown"
	}
}

// VideoFormat is the per-channel format descriptor: resolution, field mode,
// frame rate, and the audio sample cadence (§3). All per-channel components
// share one VideoFormat, each holding its own copy taken at construction;
// internal/channel does not enforce quiescence when it changes, that is
// left to the caller.
type VideoFormat struct {
	Name    string
	Width   int
	Height  int
	Field   FieldMode
	FPS     float64
	Cadence []int // audio samples per frame for one cadence cycle, repeated cyclically
}

// SampleRate returns the nominal audio sample rate implied by the cadence:
// the sum of one cadence cycle times the number of cycles per second
// (FPS / len(Cadence)), rounded to the nearest integer. For example 25 fps
// with Cadence [1920] gives 48000.
func (f VideoFormat) SampleRate() int {
	sum := 0
	for _, c := range f.Cadence {
		sum += c
	}
	if len(f.Cadence) == 0 {
		return 0
	}
	cyclesPerSecond := f.FPS / float64(len(f.Cadence))
	return int(float64(sum)*cyclesPerSecond + 0.5)
}

// Validate checks that a VideoFormat is internally consistent.
func (f VideoFormat) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("pixfmt: invalid dimensions %dx%d", f.Width, f.Height)
	}
	if f.FPS <= 0 {
		return fmt.Errorf("pixfmt: invalid fps %v", f.FPS)
	}
	if len(f.Cadence) == 0 {
		return fmt.Errorf("pixfmt: empty audio cadence")
	}
	for _, c := range f.Cadence {
		if c <= 0 {
			return fmt.Errorf("pixfmt: non-positive cadence slot %d", c)
		}
	}
	return nil
}

// Common format presets for typical broadcast channel configurations.
var (
	Format1080p25 = VideoFormat{
		Name: "1080p25", Width: 1920, Height: 1080,
		Field: Progressive, FPS: 25,
		Cadence: []int{1920},
	}
	Format486i5994 = VideoFormat{
		Name: "486i5994", Width: 720, Height: 486,
		Field: UpperFieldFirst, FPS: 59.94,
		Cadence: []int{1602, 1601, 1602, 1601, 1602},
	}
	Format1080i50 = VideoFormat{
		Name: "1080i50", Width: 1920, Height: 1080,
		Field: UpperFieldFirst, FPS: 50,
		Cadence: []int{960},
	}
)
