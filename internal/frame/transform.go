package frame

import "github.com/relaycore/channelcore/internal/pixfmt"

// BlendMode selects how a layer's color combines with what's already on the
// render target.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendAdditive
	BlendMultiply
	BlendScreen
)

// Rect is a normalized crop window, coordinates in [0,1] relative to the
// source frame's own dimensions.
type Rect struct {
	X, Y, W, H float64
}

// FullFrame is the identity crop: the entire source frame, untouched.
var FullFrame = Rect{X: 0, Y: 0, W: 1, H: 1}

// Levels is a simple black/white/gamma remap applied after color adjustment.
type Levels struct {
	BlackPoint, WhitePoint float64
	Gamma                  float64
}

// IdentityLevels passes color through unchanged.
var IdentityLevels = Levels{BlackPoint: 0, WhitePoint: 1, Gamma: 1}

// ImageTransform is the per-layer geometry and color adjustment applied
// while compositing a draw-frame (§3). Transforms compose multiplicatively
// on tree descent: a child's transform is combined with its parent's via
// Compose before the leaf is rendered, so nested Transform nodes stack.
type ImageTransform struct {
	Alpha           float64 // 0..1, independent of Opacity — see Compose
	OffsetX, OffsetY float64
	ScaleX, ScaleY   float64
	Crop             Rect
	FieldOverride    *pixfmt.FieldMode
	Opacity          float64
	Brightness       float64 // additive, roughly -1..1
	Contrast         float64 // multiplicative around midpoint, default 1
	Saturation       float64 // multiplicative, default 1
	Levels           Levels
	BlendMode        BlendMode
}

// IdentityImageTransform is the no-op transform applied to a layer with no
// explicit adjustments.
var IdentityImageTransform = ImageTransform{
	Alpha: 1, ScaleX: 1, ScaleY: 1, Crop: FullFrame,
	Opacity: 1, Contrast: 1, Saturation: 1, Levels: IdentityLevels,
	BlendMode: BlendNormal,
}

// Compose multiplies child onto the cumulative transform parent already
// carries while descending the tree: offsets add in the parent's scaled
// space, scale/alpha/opacity/contrast/saturation multiply, crop narrows to
// the intersection, and the child's blend mode and field override win
// (closer to the leaf takes precedence).
func (parent ImageTransform) Compose(child ImageTransform) ImageTransform {
	out := ImageTransform{
		Alpha:      parent.Alpha * child.Alpha,
		OffsetX:    parent.OffsetX + child.OffsetX*parent.ScaleX,
		OffsetY:    parent.OffsetY + child.OffsetY*parent.ScaleY,
		ScaleX:     parent.ScaleX * child.ScaleX,
		ScaleY:     parent.ScaleY * child.ScaleY,
		Crop:       intersectRect(parent.Crop, child.Crop),
		Opacity:    parent.Opacity * child.Opacity,
		Brightness: parent.Brightness + child.Brightness,
		Contrast:   parent.Contrast * child.Contrast,
		Saturation: parent.Saturation * child.Saturation,
		Levels:     child.Levels,
		BlendMode:  child.BlendMode,
	}
	out.FieldOverride = parent.FieldOverride
	if child.FieldOverride != nil {
		out.FieldOverride = child.FieldOverride
	}
	return out
}

func intersectRect(a, b Rect) Rect {
	x0 := max(a.X, a.X+a.W*b.X)
	y0 := max(a.Y, a.Y+a.H*b.Y)
	w := a.W * b.W
	h := a.H * b.H
	return Rect{X: x0, Y: y0, W: w, H: h}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// audioSafetyCeiling caps composed volume to guard against runaway gain
// from deeply nested Transform nodes each multiplying volume further
// (§9 Open Question: saturating, never wrap-around).
const audioSafetyCeiling = 4.0

// AudioTransform is the per-layer audio adjustment: a non-negative volume
// scale clamped to a safety ceiling, and a flag suppressing audio entirely
// (e.g. a muted layer still contributes video).
type AudioTransform struct {
	Volume   float64
	HasAudio bool
}

// IdentityAudioTransform passes audio through unchanged.
var IdentityAudioTransform = AudioTransform{Volume: 1, HasAudio: true}

// Compose multiplies volume and ANDs the has-audio flag: a muted ancestor
// silences every descendant regardless of the child's own flag.
func (parent AudioTransform) Compose(child AudioTransform) AudioTransform {
	v := parent.Volume * child.Volume
	if v < 0 {
		v = 0
	}
	if v > audioSafetyCeiling {
		v = audioSafetyCeiling
	}
	return AudioTransform{
		Volume:   v,
		HasAudio: parent.HasAudio && child.HasAudio,
	}
}

// AudioChunk is one tick's worth of interleaved PCM samples at the channel's
// nominal sample rate, sized per the format's cadence for that tick.
type AudioChunk struct {
	Samples  []int32 // interleaved, one int32 per sample per channel, pre-clamp headroom
	Channels int
}

// Silence returns an all-zero chunk of the given sample/channel shape.
func Silence(samples, channels int) AudioChunk {
	return AudioChunk{Samples: make([]int32, samples*channels), Channels: channels}
}
