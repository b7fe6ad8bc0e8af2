// Package mixer evaluates each tick's {layer_id → draw_frame} map into a
// single read-frame: recursive draw-frame tree evaluation with cumulative
// image/audio transforms, GPU kernel dispatch per leaf pixel format, and
// cadence-aware PCM accumulation (§4.5).
package mixer

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/stage"
)

// degradedThreshold is the number of consecutive GPU render failures after
// which the channel is marked degraded (§7 "N consecutive failures mark the
// channel degraded").
const degradedThreshold = 8

// Mixer drives one channel's compositing on its own executor: every Tick
// call runs device Render/Readback calls serialized through exec, so the
// Device implementation never sees concurrent calls from this channel.
type Mixer struct {
	exec     *actor.Executor
	device   gpu.Device
	releaser gpu.ReadReleaser
	log      *slog.Logger

	format pixfmt.VideoFormat
	cursor *pixfmt.CadenceCursor

	outMailbox chan *frame.ReadFrame

	lastReadFrame   *frame.ReadFrame
	consecutiveFail int
	degraded        bool
}

// New creates a mixer for the given format, rendering through device and
// publishing composited frames to a bounded output mailbox. releaser is the
// frame factory every composited read-frame routes its final Release
// through (§4.1); it may be nil in tests that never hold a read-frame past
// a single tick.
func New(device gpu.Device, format pixfmt.VideoFormat, outMailboxCapacity int, releaser gpu.ReadReleaser, log *slog.Logger) *Mixer {
	if log == nil {
		log = slog.Default()
	}
	return &Mixer{
		exec:       actor.NewExecutor("mixer", 2),
		device:     device,
		releaser:   releaser,
		log:        log,
		format:     format,
		cursor:     pixfmt.NewCadenceCursor(format.Cadence),
		outMailbox: make(chan *frame.ReadFrame, outMailboxCapacity),
	}
}

// Output is the bounded channel the output component reads composited
// frames from.
func (m *Mixer) Output() <-chan *frame.ReadFrame { return m.outMailbox }

// Degraded reports whether consecutive GPU failures have crossed the
// degradation threshold (§7).
func (m *Mixer) Degraded() bool {
	var d bool
	m.exec.Invoke(func() { d = m.degraded })
	return d
}

// Run pulls ticks from st's mailbox until ctx is done, composites each, and
// pushes the result downstream. Intended to run on its own goroutine for
// the channel's lifetime.
func (m *Mixer) Run(ctx context.Context, st *stage.Stage) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-st.Mailbox():
			if !ok {
				return
			}
			rf := m.composite(ctx, tick)
			st.ReleaseTicket()
			if rf == nil {
				continue
			}
			select {
			case m.outMailbox <- rf:
			case <-ctx.Done():
				rf.Release()
				return
			}
		}
	}
}

// composite runs one tick's full evaluation on the mixer's executor.
func (m *Mixer) composite(ctx context.Context, tick stage.Frame) *frame.ReadFrame {
	var out *frame.ReadFrame
	m.exec.Invoke(func() {
		out = m.compositeLocked(ctx, tick)
	})
	return out
}

func (m *Mixer) compositeLocked(ctx context.Context, tick stage.Frame) *frame.ReadFrame {
	// A fresh render target per tick keeps this straightforward; overlapping
	// upload(N+1) with readback(N) via a double-buffered target is future
	// work once a real (non-software) Device makes that overlap pay for
	// itself.
	desc := pixfmt.NewPacked(pixfmt.BGRA, m.format.Width, m.format.Height)
	target, err := m.device.CreateTexture(desc)
	if err != nil {
		return m.degrade("create_target", err)
	}

	ids := make([]int, 0, len(tick.Layers))
	for id := range tick.Layers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	audio := frame.Silence(m.cursor.Peek(), 2)
	var renderErr error
	for _, id := range ids {
		df := tick.Layers[id]
		if rerr := m.renderNode(df, gpu.IdentityTransform, frame.IdentityAudioTransform, target, &audio); rerr != nil {
			renderErr = rerr
			break
		}
	}
	if renderErr != nil {
		return m.degrade("render", renderErr)
	}

	buf, err := m.device.Readback(target)
	if err != nil {
		return m.degrade("readback", err)
	}

	m.consecutiveFail = 0
	m.degraded = false
	m.cursor.Next()

	rf := frame.NewReadFrame(desc, audio, buf, 1, m.releaser)
	if m.lastReadFrame != nil {
		m.lastReadFrame.Release()
	}
	m.lastReadFrame = rf
	rf.Retain() // one extra reference kept by the mixer as "previous frame"
	return rf
}

// degrade logs the failure, bumps the consecutive-failure counter, and
// re-emits the previous read-frame per §7's GPU-error policy. A nil
// previous frame (first tick ever) has nothing to re-emit.
func (m *Mixer) degrade(op string, err error) *frame.ReadFrame {
	m.consecutiveFail++
	if m.consecutiveFail >= degradedThreshold {
		m.degraded = true
	}
	wrapped := frame.NewOperationError(op, "gpu render pipeline", err)
	m.log.Error("mixer: tick degraded", "op", op, "error", wrapped, "consecutive", m.consecutiveFail)
	if m.lastReadFrame == nil {
		return nil
	}
	m.lastReadFrame.Retain()
	return m.lastReadFrame
}

// renderNode walks the draw-frame tree depth-first, composing the
// cumulative image/audio transform on descent and dispatching a kernel for
// each writable leaf (§4.5).
func (m *Mixer) renderNode(df *frame.DrawFrame, img gpu.RenderTransform, aud frame.AudioTransform, target *gpu.Texture, audio *frame.AudioChunk) error {
	switch df.Kind() {
	case frame.Empty, frame.EOF, frame.Late:
		return nil
	case frame.Writable:
		if err := m.device.Render(gpu.KernelComposite, []gpu.RenderInput{{Source: df.Texture(), Transform: img}}, target); err != nil {
			return err
		}
		if aud.HasAudio {
			accumulateAudio(audio, df.Audio(), aud.Volume)
		}
		return nil
	case frame.Transform:
		composed := fromRenderTransform(img).Compose(df.ImageTransform())
		next := toRenderTransform(composed)
		next.FieldStipple = img.FieldStipple // a field stipple is set once by renderInterlaced, not per image_xform
		return m.renderNode(df.Child(), next, aud.Compose(df.AudioTransformOf()), target, audio)
	case frame.Composite:
		children := df.Children()
		if df.Interlace() != frame.NotInterlaced && len(children) == 2 {
			return m.renderInterlaced(children[0], children[1], df.Interlace(), img, aud, target, audio)
		}
		for _, c := range children {
			if err := m.renderNode(c, img, aud, target, audio); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// renderInterlaced renders f1 with an upper-field stipple hint and f2 with
// lower (or vice versa), yielding one composite frame from two subframes
// (§4.5). The actual scanline stipple is a Device/kernel concern; here we
// only thread the field override through the cumulative transform.
func (m *Mixer) renderInterlaced(f1, f2 *frame.DrawFrame, mode frame.InterlaceMode, img gpu.RenderTransform, aud frame.AudioTransform, target *gpu.Texture, audio *frame.AudioChunk) error {
	first, second := gpu.FieldUpper, gpu.FieldLower
	if mode == frame.InterlaceLower {
		first, second = gpu.FieldLower, gpu.FieldUpper
	}
	img1 := withFieldStipple(img, first)
	img2 := withFieldStipple(img, second)
	if err := m.renderNode(f1, img1, aud, target, audio); err != nil {
		return err
	}
	return m.renderNode(f2, img2, aud, target, audio)
}

// withFieldStipple restricts a RenderTransform to one field's scanlines so
// renderNode's leaf kernel dispatch paints only the even or odd rows of the
// target, the polygon-stipple interlace convention of §4.5.
func withFieldStipple(t gpu.RenderTransform, stipple gpu.FieldStipple) gpu.RenderTransform {
	t.FieldStipple = stipple
	return t
}

func toRenderTransform(t frame.ImageTransform) gpu.RenderTransform {
	return gpu.RenderTransform{
		OffsetX: t.OffsetX, OffsetY: t.OffsetY,
		ScaleX: t.ScaleX, ScaleY: t.ScaleY,
		CropX: t.Crop.X, CropY: t.Crop.Y, CropW: t.Crop.W, CropH: t.Crop.H,
		Opacity:    t.Alpha * t.Opacity,
		Brightness: t.Brightness, Contrast: t.Contrast, Saturation: t.Saturation,
		BlendMode: int(t.BlendMode),
	}
}

func fromRenderTransform(t gpu.RenderTransform) frame.ImageTransform {
	return frame.ImageTransform{
		Alpha: 1, OffsetX: t.OffsetX, OffsetY: t.OffsetY,
		ScaleX: t.ScaleX, ScaleY: t.ScaleY,
		Crop:       frame.Rect{X: t.CropX, Y: t.CropY, W: t.CropW, H: t.CropH},
		Opacity:    t.Opacity,
		Brightness: t.Brightness, Contrast: t.Contrast, Saturation: t.Saturation,
		Levels:    frame.IdentityLevels,
		BlendMode: frame.BlendMode(t.BlendMode),
	}
}

// accumulateAudio scales src by volume and sums into dst, saturating to
// int32 bounds rather than wrapping (§9 Open Question). Shorter leaf chunks
// are silence-padded by simply not contributing past their own length.
func accumulateAudio(dst *frame.AudioChunk, src frame.AudioChunk, volume float64) {
	n := len(src.Samples)
	if n > len(dst.Samples) {
		n = len(dst.Samples)
	}
	for i := 0; i < n; i++ {
		scaled := float64(src.Samples[i]) * volume
		sum := float64(dst.Samples[i]) + scaled
		dst.Samples[i] = saturateInt32(sum)
	}
}

func saturateInt32(v float64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// Shutdown stops the mixer's executor.
func (m *Mixer) Shutdown() { m.exec.Shutdown(2 * time.Second) }
