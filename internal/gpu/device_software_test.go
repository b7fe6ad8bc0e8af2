package gpu

import (
	"testing"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

func uploadSolid(t *testing.T, d *SoftwareDevice, desc pixfmt.Descriptor, fill byte) *Texture {
	t.Helper()
	buf := d.CreateHostBuffer(desc.TotalSize(), UsageWrite)
	b := buf.MapForWrite()
	for i := range b {
		b[i] = fill
	}
	buf.Unmap()
	tex, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Upload(buf, tex); err != nil {
		t.Fatal(err)
	}
	buf.Release()
	return tex
}

func readback(t *testing.T, d *SoftwareDevice, tex *Texture) []byte {
	t.Helper()
	buf, err := d.Readback(tex)
	if err != nil {
		t.Fatal(err)
	}
	out := append([]byte(nil), buf.Bytes()...)
	buf.Unmap()
	buf.Release()
	return out
}

func TestSoftwareDeviceBlitCopiesFullOpacity(t *testing.T) {
	d := NewSoftwareDevice(NewPool())
	desc := pixfmt.NewPacked(pixfmt.BGRA, 2, 2)
	src := uploadSolid(t, d, desc, 0x7F)
	dst, _ := d.CreateTexture(desc)

	if err := d.Render(KernelBlit, []RenderInput{{Source: src, Transform: IdentityTransform}}, dst); err != nil {
		t.Fatal(err)
	}
	out := readback(t, d, dst)
	for _, v := range out {
		if v != 0x7F {
			t.Fatalf("byte = %#x, want %#x", v, 0x7F)
		}
	}
}

func TestSoftwareDeviceCompositeBlendsByAlpha(t *testing.T) {
	d := NewSoftwareDevice(NewPool())
	desc := pixfmt.NewPacked(pixfmt.BGRA, 1, 1)

	dst, _ := d.CreateTexture(desc)
	backing := uploadSolid(t, d, desc, 0x00)
	if err := d.Render(KernelBlit, []RenderInput{{Source: backing, Transform: IdentityTransform}}, dst); err != nil {
		t.Fatal(err)
	}

	// Source alpha 0xFF, opacity 1.0 over a black destination should fully
	// replace the color channels and set alpha opaque.
	srcBuf := d.CreateHostBuffer(desc.TotalSize(), UsageWrite)
	b := srcBuf.MapForWrite()
	b[0], b[1], b[2], b[3] = 0x80, 0x80, 0x80, 0xFF
	srcBuf.Unmap()
	src, _ := d.CreateTexture(desc)
	if err := d.Upload(srcBuf, src); err != nil {
		t.Fatal(err)
	}
	srcBuf.Release()

	if err := d.Render(KernelComposite, []RenderInput{{Source: src, Transform: IdentityTransform}}, dst); err != nil {
		t.Fatal(err)
	}
	out := readback(t, d, dst)
	if out[0] != 0x80 || out[3] != 0xFF {
		t.Fatalf("composited pixel = %v, want full replacement by a fully-opaque source", out)
	}
}

func TestSoftwareDeviceKeyDeriveReplicatesAlpha(t *testing.T) {
	d := NewSoftwareDevice(NewPool())
	desc := pixfmt.NewPacked(pixfmt.BGRA, 1, 1)

	srcBuf := d.CreateHostBuffer(desc.TotalSize(), UsageWrite)
	b := srcBuf.MapForWrite()
	b[0], b[1], b[2], b[3] = 0x10, 0x20, 0x30, 0x77
	srcBuf.Unmap()
	src, _ := d.CreateTexture(desc)
	if err := d.Upload(srcBuf, src); err != nil {
		t.Fatal(err)
	}
	srcBuf.Release()

	dst, _ := d.CreateTexture(desc)
	if err := d.Render(KernelKeyDerive, []RenderInput{{Source: src, Transform: IdentityTransform}}, dst); err != nil {
		t.Fatal(err)
	}
	out := readback(t, d, dst)
	if out[0] != 0x77 || out[1] != 0x77 || out[2] != 0x77 || out[3] != 0xFF {
		t.Fatalf("key-derived pixel = %v, want RGB replicating alpha 0x77 with opaque output alpha", out)
	}
}

func TestSoftwareDeviceKeyDeriveRejectsMultipleInputs(t *testing.T) {
	d := NewSoftwareDevice(NewPool())
	desc := pixfmt.NewPacked(pixfmt.BGRA, 1, 1)
	src := uploadSolid(t, d, desc, 0xAA)
	dst, _ := d.CreateTexture(desc)
	err := d.Render(KernelKeyDerive, []RenderInput{
		{Source: src, Transform: IdentityTransform},
		{Source: src, Transform: IdentityTransform},
	}, dst)
	if err == nil {
		t.Fatal("expected an error deriving a key from more than one input")
	}
}
