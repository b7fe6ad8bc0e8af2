// Package frame implements the draw-frame tagged tree, its image/audio
// transforms, and the read-frame produced by evaluating it (§3, §4.4).
package frame

import "github.com/relaycore/channelcore/internal/gpu"

// Kind tags a DrawFrame's variant. Draw-frames are immutable once
// constructed and cheaply shareable — constructing one never copies a
// child's tree, it only wraps a pointer.
type Kind int

const (
	// Writable wraps a committed GPU texture straight from the frame
	// factory: a producer's raw output for this tick.
	Writable Kind = iota
	// Composite holds an ordered list of children painted in order (stable
	// paint order), optionally as two interlaced half-frames.
	Composite
	// Transform wraps one child with a cumulative image+audio transform to
	// apply before compositing it.
	Transform
	// Empty is a no-op: contributes nothing to the composite.
	Empty
	// EOF signals the producer that emitted this frame is finished.
	EOF
	// Late means the producer missed this tick's deadline; the layer
	// substitutes its last concrete frame instead of advancing.
	Late
)

func (k Kind) String() string {
	switch k {
	case Writable:
		return "writable"
	case Composite:
		return "composite"
	case Transform:
		return "transform"
	case Empty:
		return "empty"
	case EOF:
		return "eof"
	case Late:
		return "late"
	default:
		return "unknown"
	}
}

// InterlaceMode selects which half-frame supplies the upper vs. lower field
// when a Composite node carries two children as an interlace pair.
type InterlaceMode int

const (
	NotInterlaced InterlaceMode = iota
	InterlaceUpper
	InterlaceLower
)

// DrawFrame is the tagged sum type the mixer evaluates depth-first. Exactly
// one of the fields below is meaningful, selected by Kind; callers use the
// constructors instead of building the struct literal directly so an
// invalid combination can't be expressed.
type DrawFrame struct {
	kind Kind

	texture *gpu.Texture // Writable
	audio   AudioChunk   // Writable

	children  []*DrawFrame  // Composite
	interlace InterlaceMode // Composite (meaningful only with exactly 2 children)

	child     *DrawFrame     // Transform
	image     ImageTransform // Transform
	audioXfrm AudioTransform // Transform
}

// NewWritable wraps a committed texture and its tick's audio chunk as a
// producer's raw frame.
func NewWritable(tex *gpu.Texture, audio AudioChunk) *DrawFrame {
	return &DrawFrame{kind: Writable, texture: tex, audio: audio}
}

// NewComposite paints children in order. interlace is NotInterlaced unless
// exactly two children are given and the caller wants field interleaving.
func NewComposite(children []*DrawFrame, interlace InterlaceMode) *DrawFrame {
	return &DrawFrame{kind: Composite, children: children, interlace: interlace}
}

// NewTransform wraps child with an image+audio transform applied on
// descent, multiplied into whatever cumulative transform the parent already
// carries.
func NewTransform(child *DrawFrame, image ImageTransform, audio AudioTransform) *DrawFrame {
	return &DrawFrame{kind: Transform, child: child, image: image, audioXfrm: audio}
}

// EmptyFrame is the shared no-op value; safe to reuse across every caller
// since DrawFrame is immutable.
var EmptyFrame = &DrawFrame{kind: Empty}

// EOFFrame is the shared end-of-stream marker.
var EOFFrame = &DrawFrame{kind: EOF}

// LateFrame is the shared missed-deadline marker.
var LateFrame = &DrawFrame{kind: Late}

func (f *DrawFrame) Kind() Kind { return f.kind }

// Texture returns the wrapped texture; valid only when Kind() == Writable.
func (f *DrawFrame) Texture() *gpu.Texture { return f.texture }

// Audio returns the wrapped audio chunk; valid only when Kind() == Writable.
func (f *DrawFrame) Audio() AudioChunk { return f.audio }

// Children returns the composite's ordered child list; valid only when
// Kind() == Composite.
func (f *DrawFrame) Children() []*DrawFrame { return f.children }

// Interlace returns the composite's field mode; valid only when
// Kind() == Composite.
func (f *DrawFrame) Interlace() InterlaceMode { return f.interlace }

// Child returns the wrapped frame; valid only when Kind() == Transform.
func (f *DrawFrame) Child() *DrawFrame { return f.child }

// ImageTransform returns the node's image transform; valid only when
// Kind() == Transform.
func (f *DrawFrame) ImageTransform() ImageTransform { return f.image }

// AudioTransformOf returns the node's audio transform; valid only when
// Kind() == Transform.
func (f *DrawFrame) AudioTransformOf() AudioTransform { return f.audioXfrm }
