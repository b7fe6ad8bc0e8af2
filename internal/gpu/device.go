package gpu

import (
	"errors"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

// ErrDeviceLost is returned by any Device method once the underlying
// graphics context has failed (device reset, surface loss). The mixer
// treats it as transient per-tick degradation, not a fatal pipeline error
// (§7: "a render failure degrades one tick's output, it does not take the
// channel down").
var ErrDeviceLost = errors.New("gpu: device lost")

// Texture is an opaque GPU-resident image matching a pixfmt.Descriptor. Its
// concrete representation (GL texture name, Vulkan image + view, or a plain
// byte slice for the software device) is private to the Device
// implementation that created it.
type Texture struct {
	Desc pixfmt.Descriptor
	impl any
}

// Kernel names a compositing operation the Device knows how to run. The
// software and Vulkan devices both implement every kernel the mixer needs;
// new kernels are added here, not invented ad hoc by callers.
type Kernel int

const (
	// KernelBlit copies a source texture into the target at the same pixel
	// positions. The software device applies the transform's opacity and
	// field stipple; the Vulkan device does a plain image copy. Neither
	// applies the transform's crop, scale or translate fields.
	KernelBlit Kernel = iota
	// KernelComposite alpha-blends a source over the current target
	// contents with normal "over" blending and the transform's color
	// adjustment. The transform's BlendMode and its crop, scale and
	// translate fields are not applied.
	KernelComposite
	// KernelColorAdjust applies brightness/contrast/saturation/levels
	// in-place on the target.
	KernelColorAdjust
	// KernelKeyDerive writes an RGBA texture whose color channels replicate
	// the source's alpha channel (§4.8 key-only consumer derivation).
	KernelKeyDerive
)

// RenderInput is one source texture plus the transform to apply while
// compositing it into the render target.
type RenderInput struct {
	Source    *Texture
	Transform RenderTransform
}

// RenderTransform carries the subset of an ImageTransform a Device kernel
// needs: geometry and color parameters, decoupled from internal/frame so
// this package has no dependency on the frame tree's tagged-union type.
type RenderTransform struct {
	OffsetX, OffsetY                 float64
	ScaleX, ScaleY                   float64
	CropX, CropY                     float64
	CropW, CropH                     float64
	Opacity                          float64
	Brightness, Contrast, Saturation float64
	BlendMode                        int

	// FieldStipple, when non-zero, restricts a composite/blit kernel to
	// either the even (FieldUpper) or odd (FieldLower) destination scanlines
	// — the polygon-stipple interlace convention of §4.5. Zero value
	// (FieldNone) paints every line, the progressive case.
	FieldStipple FieldStipple
}

// FieldStipple selects which half of the target's scanlines a kernel paints,
// implementing composite.interlace's per-field render (§4.5, §8 scenario S4).
type FieldStipple int

const (
	FieldNone FieldStipple = iota
	FieldUpper
	FieldLower
)

// IdentityTransform is the no-op transform: full-frame, full-opacity,
// neutral color adjustment, no field stipple.
var IdentityTransform = RenderTransform{
	ScaleX: 1, ScaleY: 1, CropW: 1, CropH: 1, Opacity: 1,
	Brightness: 0, Contrast: 1, Saturation: 1,
}

// Device hides all GPU state behind an actor-style call surface (§9 "GPU
// abstraction"). Device methods are called from more than one goroutine
// (the mixer's executor, producers committing frames, the output deriving
// key-only frames), so each implementation serializes its own state:
// SoftwareDevice locks per texture, VulkanDevice holds one mutex.
type Device interface {
	// CreateHostBuffer allocates (or recycles from the pool) a host-visible
	// buffer of the given size and usage.
	CreateHostBuffer(size int, usage Usage) *HostBuffer

	// CreateTexture allocates GPU storage matching desc.
	CreateTexture(desc pixfmt.Descriptor) (*Texture, error)

	// Upload DMAs an unmapped host buffer's contents into tex. buf must not
	// be mapped; ownership of buf is not transferred, the caller releases
	// it afterward.
	Upload(buf *HostBuffer, tex *Texture) error

	// Render runs kernel over inputs into target, compositing depth-first
	// per the mixer's draw-frame tree evaluation (§4.4).
	Render(kernel Kernel, inputs []RenderInput, target *Texture) error

	// Readback DMAs target's current contents into a freshly-pooled
	// read-usage host buffer, mapped for read on return.
	Readback(target *Texture) (*HostBuffer, error)

	// Close releases all GPU resources. Idempotent.
	Close() error
}
