package gpu

import (
	"fmt"
	"sync"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

// softTexture is the software Device's texture representation: a plain byte
// slice laid out exactly like a Descriptor's planes, guarded by its own
// mutex since the mixer may read it back while another render targets a
// different texture concurrently.
type softTexture struct {
	mu   sync.Mutex
	desc pixfmt.Descriptor
	data []byte
}

// SoftwareDevice is a pure-Go CPU compositor implementing the full Device
// contract with no graphics API dependency. It is the default backend:
// channels run on it unless explicitly configured for a hardware backend,
// which keeps the pipeline testable without a GPU present (mirrors the
// packaged headless backend's role as the always-available fallback).
type SoftwareDevice struct {
	pool *Pool
}

// NewSoftwareDevice creates a CPU compositing device backed by pool.
func NewSoftwareDevice(pool *Pool) *SoftwareDevice {
	return &SoftwareDevice{pool: pool}
}

func (d *SoftwareDevice) CreateHostBuffer(size int, usage Usage) *HostBuffer {
	if usage == UsageWrite {
		return d.pool.GetWrite(nil, size)
	}
	return d.pool.GetRead(size)
}

func (d *SoftwareDevice) CreateTexture(desc pixfmt.Descriptor) (*Texture, error) {
	t := &softTexture{desc: desc, data: make([]byte, desc.TotalSize())}
	return &Texture{Desc: desc, impl: t}, nil
}

func (d *SoftwareDevice) Upload(buf *HostBuffer, tex *Texture) error {
	st, ok := tex.impl.(*softTexture)
	if !ok {
		return fmt.Errorf("gpu: software device cannot upload to foreign texture")
	}
	buf.mu.Lock()
	src := buf.data
	buf.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()
	n := copy(st.data, src)
	if n < len(st.data) {
		// short upload: zero-fill the remainder rather than leaving stale
		// data from whatever previously occupied this recycled texture.
		for i := n; i < len(st.data); i++ {
			st.data[i] = 0
		}
	}
	return nil
}

func (d *SoftwareDevice) Render(kernel Kernel, inputs []RenderInput, target *Texture) error {
	dst, ok := target.impl.(*softTexture)
	if !ok {
		return fmt.Errorf("gpu: software device cannot render to foreign texture")
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()

	switch kernel {
	case KernelBlit:
		for _, in := range inputs {
			blit(in, dst)
		}
	case KernelComposite:
		for _, in := range inputs {
			composite(in, dst)
		}
	case KernelColorAdjust:
		for _, in := range inputs {
			colorAdjust(in.Transform, dst.data)
		}
	case KernelKeyDerive:
		if len(inputs) != 1 {
			return fmt.Errorf("gpu: key derive takes exactly one input, got %d", len(inputs))
		}
		deriveKey(inputs[0], dst)
	default:
		return fmt.Errorf("gpu: unknown kernel %d", kernel)
	}
	return nil
}

func (d *SoftwareDevice) Readback(target *Texture) (*HostBuffer, error) {
	st, ok := target.impl.(*softTexture)
	if !ok {
		return nil, fmt.Errorf("gpu: software device cannot read back foreign texture")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	buf := d.pool.GetRead(len(st.data))
	dst := buf.MapForRead()
	copy(dst, st.data)
	return buf, nil
}

func (d *SoftwareDevice) Close() error { return nil }

// blit copies src into dst honoring only opacity, treating both as
// single-plane packed 4-channel buffers (the common case for the mixer's
// composite path). A planar YCbCr(A) source is first upsampled and
// converted to packed BGRA via planarToBGRA so the rest of the blend math
// stays single-format.
func blit(in RenderInput, dst *softTexture) {
	src, ok := in.Source.impl.(*softTexture)
	if !ok {
		return
	}
	src.mu.Lock()
	srcData := src.data
	if src.desc.Tag.Planar() {
		srcData = planarToBGRA(src.desc, src.data)
	}
	src.mu.Unlock()
	n := len(srcData)
	if n > len(dst.data) {
		n = len(dst.data)
	}
	alpha := clamp01(in.Transform.Opacity)
	forEachStippledPixel(dst, in.Transform.FieldStipple, n, func(i int) {
		if alpha >= 1 {
			copy(dst.data[i:i+4], srcData[i:i+4])
			return
		}
		for c := 0; c < 4; c++ {
			dst.data[i+c] = blend8(dst.data[i+c], srcData[i+c], alpha)
		}
	})
}

// forEachStippledPixel calls fn(i) for every 4-byte packed pixel offset
// within the first n bytes of dst, restricted to the even (FieldUpper) or
// odd (FieldLower) scanlines when stipple requests one — the polygon-
// stipple interlace convention (§4.5). FieldNone visits every pixel.
func forEachStippledPixel(dst *softTexture, stipple FieldStipple, n int, fn func(i int)) {
	if stipple == FieldNone || len(dst.desc.Planes) == 0 {
		for i := 0; i+3 < n; i += 4 {
			fn(i)
		}
		return
	}
	plane := dst.desc.Planes[0]
	want := 0
	if stipple == FieldLower {
		want = 1
	}
	for y := 0; y < plane.Height; y++ {
		if y%2 != want {
			continue
		}
		rowStart := y * plane.Stride
		rowEnd := rowStart + plane.Width*plane.Channels
		if rowEnd > n {
			rowEnd = n
		}
		for i := rowStart; i+3 < rowEnd; i += 4 {
			fn(i)
		}
	}
}

// composite alpha-blends src over dst using the source's own alpha channel
// times the transform's opacity, assuming 4-channel packed layout. A
// planar YCbCr(A) source is converted the same way blit does.
func composite(in RenderInput, dst *softTexture) {
	src, ok := in.Source.impl.(*softTexture)
	if !ok {
		return
	}
	src.mu.Lock()
	srcData := src.data
	if src.desc.Tag.Planar() {
		srcData = planarToBGRA(src.desc, src.data)
	}
	src.mu.Unlock()
	n := len(srcData)
	if n > len(dst.data) {
		n = len(dst.data)
	}
	opacity := clamp01(in.Transform.Opacity)
	neutral := isColorNeutral(in.Transform)
	forEachStippledPixel(dst, in.Transform.FieldStipple, n, func(i int) {
		r, g, b := float64(srcData[i]), float64(srcData[i+1]), float64(srcData[i+2])
		if !neutral {
			r, g, b = adjustColor(r, g, b, in.Transform)
		}
		srcAlpha := (float64(srcData[i+3]) / 255) * opacity
		dst.data[i] = blend8(dst.data[i], clamp8(r), srcAlpha)
		dst.data[i+1] = blend8(dst.data[i+1], clamp8(g), srcAlpha)
		dst.data[i+2] = blend8(dst.data[i+2], clamp8(b), srcAlpha)
		dst.data[i+3] = blend8(dst.data[i+3], srcData[i+3], opacity)
	})
}

// isColorNeutral reports whether a RenderTransform's color-adjust
// parameters are all identity values, letting composite skip the per-pixel
// adjustColor call on the (hot) common path of an unmodified layer.
func isColorNeutral(t RenderTransform) bool {
	return t.Brightness == 0 && t.Contrast == 1 && t.Saturation == 1
}

// adjustColor applies brightness/contrast/saturation to one pixel's color
// channels, the same math colorAdjust uses for its standalone kernel.
func adjustColor(r, g, b float64, t RenderTransform) (float64, float64, float64) {
	brightness := t.Brightness * 255
	contrast := t.Contrast
	saturation := t.Saturation

	gray := 0.299*r + 0.587*g + 0.114*b
	r = gray + (r-gray)*saturation
	g = gray + (g-gray)*saturation
	b = gray + (b-gray)*saturation

	r = (r-127.5)*contrast + 127.5 + brightness
	g = (g-127.5)*contrast + 127.5 + brightness
	b = (b-127.5)*contrast + 127.5 + brightness
	return r, g, b
}

// colorAdjust applies brightness/contrast/saturation in place over a
// 4-channel packed buffer, leaving alpha untouched — the standalone
// KernelColorAdjust entry point; composite/blit apply the same math inline
// via adjustColor so a single-pass layer render doesn't need a second
// kernel dispatch.
func colorAdjust(t RenderTransform, data []byte) {
	for i := 0; i+3 < len(data); i += 4 {
		r := float64(data[i])
		g := float64(data[i+1])
		b := float64(data[i+2])

		r, g, b = adjustColor(r, g, b, t)

		data[i] = clamp8(r)
		data[i+1] = clamp8(g)
		data[i+2] = clamp8(b)
	}
}

// deriveKey writes an RGBA texture whose R/G/B channels all replicate the
// source's alpha channel and whose alpha is opaque (§4.8).
func deriveKey(in RenderInput, dst *softTexture) {
	src, ok := in.Source.impl.(*softTexture)
	if !ok {
		return
	}
	src.mu.Lock()
	srcData := src.data
	if src.desc.Tag.Planar() {
		srcData = planarToBGRA(src.desc, src.data)
	}
	src.mu.Unlock()
	n := len(srcData)
	if n > len(dst.data) {
		n = len(dst.data)
	}
	for i := 0; i+3 < n; i += 4 {
		a := srcData[i+3]
		dst.data[i] = a
		dst.data[i+1] = a
		dst.data[i+2] = a
		dst.data[i+3] = 255
	}
}

func blend8(dst, src byte, alpha float64) byte {
	return clamp8(float64(dst)*(1-alpha) + float64(src)*alpha)
}

func clamp8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
