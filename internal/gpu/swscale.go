package gpu

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

// planarToBGRA upsamples a planar YCbCr(A) texture to full-resolution
// packed BGRA bytes, suitable for the software device's existing 4-channel
// blit/composite/colorAdjust paths. Chroma planes narrower or shorter than
// the luma plane (4:2:2, 4:2:0) are scaled up bilinearly before the
// YCbCr->RGB conversion; 4:4:4 and YCbCrA planes are already full
// resolution and skip the scale step.
func planarToBGRA(desc pixfmt.Descriptor, data []byte) []byte {
	luma := desc.Planes[0]
	out := make([]byte, luma.Width*luma.Height*4)

	yPlane, cbPlane, crPlane := planeBytes(desc, data, 0), upsamplePlane(desc, data, 1, luma), upsamplePlane(desc, data, 2, luma)

	var aPlane []byte
	hasAlpha := desc.Tag == pixfmt.YCbCrA
	if hasAlpha {
		aPlane = planeBytes(desc, data, 3)
	}

	for row := 0; row < luma.Height; row++ {
		for col := 0; col < luma.Width; col++ {
			idx := row*luma.Stride + col
			y := yPlane[idx]
			cb := cbPlane[idx]
			cr := crPlane[idx]
			r, g, b := color.YCbCrToRGB(y, cb, cr)

			a := byte(255)
			if hasAlpha {
				a = aPlane[idx]
			}

			o := (row*luma.Width + col) * 4
			out[o] = b
			out[o+1] = g
			out[o+2] = r
			out[o+3] = a
		}
	}
	return out
}

// planeBytes slices the nth plane out of a texture's concatenated plane
// buffer.
func planeBytes(desc pixfmt.Descriptor, data []byte, n int) []byte {
	offset := 0
	for i := 0; i < n; i++ {
		offset += desc.Planes[i].Size()
	}
	p := desc.Planes[n]
	return data[offset : offset+p.Size()]
}

// upsamplePlane returns plane n scaled to the luma plane's dimensions. When
// the plane is already full resolution (4:4:4, YCbCrA) it is returned
// as-is; otherwise it is scaled up with x/image/draw's bilinear scaler.
func upsamplePlane(desc pixfmt.Descriptor, data []byte, n int, luma pixfmt.Plane) []byte {
	raw := planeBytes(desc, data, n)
	p := desc.Planes[n]
	if p.Width == luma.Width && p.Height == luma.Height {
		return raw
	}

	src := &image.Gray{Pix: raw, Stride: p.Stride, Rect: image.Rect(0, 0, p.Width, p.Height)}
	dst := image.NewGray(image.Rect(0, 0, luma.Width, luma.Height))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst.Pix
}
