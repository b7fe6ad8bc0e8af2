//go:build vulkan

package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/relaycore/channelcore/internal/pixfmt"
)

// VulkanDevice renders offscreen — no window or swapchain — exactly the way
// the reference Vulkan backend this is adapted from does it: one color
// image per render target, a single staging buffer for CPU readback, one
// command pool/buffer/fence pair reused across submissions. Everything is
// serialized by d.mu since Device methods may be called from the mixer's
// executor goroutine, which is the only caller, but Close can race a
// destroyer-queue teardown.
type VulkanDevice struct {
	mu sync.Mutex

	pool *Pool

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32

	commandPool   vk.CommandPool
	commandBuffer vk.CommandBuffer
	fence         vk.Fence

	stagingBuffer       vk.Buffer
	stagingBufferMemory vk.DeviceMemory
	stagingSize         vk.DeviceSize

	closed bool
}

// vkTexture is the Vulkan Device's Texture.impl: an offscreen color image
// plus its view and backing memory, sized from a pixfmt.Descriptor.
type vkTexture struct {
	image  vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	width  uint32
	height uint32
	bytes  int
}

// NewVulkanDevice initializes a Vulkan instance, picks the first enumerated
// physical device (no preference for discrete GPUs), and opens one
// graphics+transfer queue. Returns ErrDeviceLost wrapped with the failing
// step if Vulkan itself isn't available on the host. cmd/channelsrv does
// not call it; the server always runs on SoftwareDevice.
func NewVulkanDevice(pool *Pool) (*VulkanDevice, error) {
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("%w: vk.Init: %v", ErrDeviceLost, err)
	}
	d := &VulkanDevice{pool: pool}
	if err := d.createInstance(); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.createDevice(); err != nil {
		return nil, err
	}
	if err := d.createCommandPool(); err != nil {
		return nil, err
	}
	if err := d.createCommandBuffer(); err != nil {
		return nil, err
	}
	if err := d.createFence(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *VulkanDevice) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:         vk.StructureTypeApplicationInfo,
		PApplicationName: safeCString("channelcore"),
		ApiVersion:    vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("%w: vkCreateInstance failed: %d", ErrDeviceLost, res)
	}
	vk.InitInstance(instance)
	d.instance = instance
	return nil
}

func (d *VulkanDevice) selectPhysicalDevice() error {
	var count uint32
	vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if count == 0 {
		return fmt.Errorf("%w: no Vulkan physical devices", ErrDeviceLost)
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(d.instance, &count, devices)
	d.physicalDevice = devices[0]

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physicalDevice, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physicalDevice, &familyCount, families)
	for i, f := range families {
		f.Deref()
		if f.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			d.queueFamily = uint32(i)
			return nil
		}
	}
	return fmt.Errorf("%w: no graphics queue family", ErrDeviceLost)
}

func (d *VulkanDevice) createDevice() error {
	priority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{priority},
	}
	deviceInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}
	var device vk.Device
	if res := vk.CreateDevice(d.physicalDevice, &deviceInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("%w: vkCreateDevice failed: %d", ErrDeviceLost, res)
	}
	d.device = device
	var queue vk.Queue
	vk.GetDeviceQueue(d.device, d.queueFamily, 0, &queue)
	d.queue = queue
	return nil
}

func (d *VulkanDevice) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("%w: vkCreateCommandPool failed: %d", ErrDeviceLost, res)
	}
	d.commandPool = pool
	return nil
}

func (d *VulkanDevice) createCommandBuffer() error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vk.Success {
		return fmt.Errorf("%w: vkAllocateCommandBuffers failed: %d", ErrDeviceLost, res)
	}
	d.commandBuffer = buffers[0]
	return nil
}

func (d *VulkanDevice) createFence() error {
	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(d.device, &fenceInfo, nil, &fence); res != vk.Success {
		return fmt.Errorf("%w: vkCreateFence failed: %d", ErrDeviceLost, res)
	}
	d.fence = fence
	return nil
}

func (d *VulkanDevice) findMemoryType(typeFilter uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memProps)
	memProps.Deref()
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		t := memProps.MemoryTypes[i]
		t.Deref()
		if typeFilter&(1<<i) != 0 && t.PropertyFlags&props == props {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no suitable memory type", ErrDeviceLost)
}

func (d *VulkanDevice) ensureStagingBuffer(size vk.DeviceSize) error {
	if d.stagingBuffer != vk.NullBuffer && d.stagingSize >= size {
		return nil
	}
	if d.stagingBuffer != vk.NullBuffer {
		vk.DestroyBuffer(d.device, d.stagingBuffer, nil)
		vk.FreeMemory(d.device, d.stagingBufferMemory, nil)
	}
	bufferInfo := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  size,
		Usage: vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit),
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.device, &bufferInfo, nil, &buffer); res != vk.Success {
		return fmt.Errorf("%w: vkCreateBuffer (staging) failed: %d", ErrDeviceLost, res)
	}
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &memReqs)
	memReqs.Deref()
	memType, err := d.findMemoryType(memReqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vk.Success {
		return fmt.Errorf("%w: vkAllocateMemory (staging) failed: %d", ErrDeviceLost, res)
	}
	vk.BindBufferMemory(d.device, buffer, memory, 0)
	d.stagingBuffer = buffer
	d.stagingBufferMemory = memory
	d.stagingSize = size
	return nil
}

func (d *VulkanDevice) CreateHostBuffer(size int, usage Usage) *HostBuffer {
	if usage == UsageWrite {
		return d.pool.GetWrite(nil, size)
	}
	return d.pool.GetRead(size)
}

func (d *VulkanDevice) CreateTexture(desc pixfmt.Descriptor) (*Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, h := uint32(0), uint32(0)
	if len(desc.Planes) > 0 {
		w = uint32(desc.Planes[0].Width)
		h = uint32(desc.Planes[0].Height)
	}
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.FormatB8g8r8a8Unorm,
		Extent:    vk.Extent3D{Width: w, Height: h, Depth: 1},
		MipLevels: 1,
		ArrayLayers: 1,
		Samples:   vk.SampleCount1Bit,
		Tiling:    vk.ImageTilingOptimal,
		Usage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if res := vk.CreateImage(d.device, &imageInfo, nil, &image); res != vk.Success {
		return nil, fmt.Errorf("%w: vkCreateImage failed: %d", ErrDeviceLost, res)
	}
	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &memReqs)
	memReqs.Deref()
	memType, err := d.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vk.Success {
		return nil, fmt.Errorf("%w: vkAllocateMemory (image) failed: %d", ErrDeviceLost, res)
	}
	vk.BindImageMemory(d.device, image, memory, 0)

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   imageInfo.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.device, &viewInfo, nil, &view); res != vk.Success {
		return nil, fmt.Errorf("%w: vkCreateImageView failed: %d", ErrDeviceLost, res)
	}

	t := &vkTexture{image: image, memory: memory, view: view, width: w, height: h, bytes: desc.TotalSize()}
	return &Texture{Desc: desc, impl: t}, nil
}

// Upload stages buf through the shared staging buffer and records a
// one-shot copy into tex, the readback path run in reverse (buffer→image
// instead of image→buffer).
func (d *VulkanDevice) Upload(buf *HostBuffer, tex *Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	vt, ok := tex.impl.(*vkTexture)
	if !ok {
		return fmt.Errorf("gpu: vulkan device cannot upload to foreign texture")
	}
	size := vk.DeviceSize(buf.Size())
	if err := d.ensureStagingBuffer(size); err != nil {
		return err
	}
	var mapped unsafe.Pointer
	vk.MapMemory(d.device, d.stagingBufferMemory, 0, size, 0, &mapped)
	dst := (*[1 << 30]byte)(mapped)[:buf.Size():buf.Size()]
	buf.mu.Lock()
	copy(dst, buf.data)
	buf.mu.Unlock()
	vk.UnmapMemory(d.device, d.stagingBufferMemory)

	vk.ResetCommandBuffer(d.commandBuffer, 0)
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	vk.BeginCommandBuffer(d.commandBuffer, &beginInfo)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: vt.width, Height: vt.height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(d.commandBuffer, d.stagingBuffer, vt.image,
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	vk.EndCommandBuffer(d.commandBuffer)
	return d.submitAndWait()
}

// Render dispatches compositing. KernelBlit is a plain GPU image copy;
// composite/color-adjust/key-derive reuse the software kernels against a
// staged readback-then-upload round trip. A dedicated compute pipeline for
// these would avoid the round trip but hasn't been written yet.
func (d *VulkanDevice) Render(kernel Kernel, inputs []RenderInput, target *Texture) error {
	if kernel == KernelBlit {
		d.mu.Lock()
		defer d.mu.Unlock()
		vtDst, ok := target.impl.(*vkTexture)
		if !ok {
			return fmt.Errorf("gpu: vulkan device cannot render to foreign texture")
		}
		vk.ResetCommandBuffer(d.commandBuffer, 0)
		beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
		vk.BeginCommandBuffer(d.commandBuffer, &beginInfo)
		for _, in := range inputs {
			vtSrc, ok := in.Source.impl.(*vkTexture)
			if !ok {
				continue
			}
			region := vk.ImageCopy{
				SrcSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
				DstSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
				Extent:         vk.Extent3D{Width: vtDst.width, Height: vtDst.height, Depth: 1},
			}
			vk.CmdCopyImage(d.commandBuffer, vtSrc.image, vk.ImageLayoutTransferSrcOptimal,
				vtDst.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{region})
		}
		vk.EndCommandBuffer(d.commandBuffer)
		return d.submitAndWait()
	}
	return d.renderViaStagedRoundTrip(kernel, inputs, target)
}

func (d *VulkanDevice) renderViaStagedRoundTrip(kernel Kernel, inputs []RenderInput, target *Texture) error {
	sw := NewSoftwareDevice(d.pool)
	stagedTarget, err := d.stageToSoftware(target, sw)
	if err != nil {
		return err
	}
	stagedInputs := make([]RenderInput, 0, len(inputs))
	for _, in := range inputs {
		st, err := d.stageToSoftware(in.Source, sw)
		if err != nil {
			return err
		}
		stagedInputs = append(stagedInputs, RenderInput{Source: st, Transform: in.Transform})
	}
	if err := sw.Render(kernel, stagedInputs, stagedTarget); err != nil {
		return err
	}
	buf, err := sw.Readback(stagedTarget)
	if err != nil {
		return err
	}
	buf.Unmap()
	defer buf.Release()
	return d.Upload(buf, target)
}

func (d *VulkanDevice) stageToSoftware(tex *Texture, sw *SoftwareDevice) (*Texture, error) {
	buf, err := d.Readback(tex)
	if err != nil {
		return nil, err
	}
	defer func() {
		buf.Unmap()
		buf.Release()
	}()
	st, err := sw.CreateTexture(tex.Desc)
	if err != nil {
		return nil, err
	}
	wbuf := d.pool.GetWrite(nil, buf.Size())
	copy(wbuf.MapForWrite(), buf.Bytes())
	wbuf.Unmap()
	defer wbuf.Release()
	if err := sw.Upload(wbuf, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (d *VulkanDevice) Readback(target *Texture) (*HostBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vt, ok := target.impl.(*vkTexture)
	if !ok {
		return nil, fmt.Errorf("gpu: vulkan device cannot read back foreign texture")
	}
	size := vk.DeviceSize(vt.bytes)
	if err := d.ensureStagingBuffer(size); err != nil {
		return nil, err
	}
	vk.ResetCommandBuffer(d.commandBuffer, 0)
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	vk.BeginCommandBuffer(d.commandBuffer, &beginInfo)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
		ImageExtent:      vk.Extent3D{Width: vt.width, Height: vt.height, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(d.commandBuffer, vt.image, vk.ImageLayoutTransferSrcOptimal,
		d.stagingBuffer, 1, []vk.BufferImageCopy{region})
	vk.EndCommandBuffer(d.commandBuffer)
	if err := d.submitAndWait(); err != nil {
		return nil, err
	}

	buf := d.pool.GetRead(vt.bytes)
	dst := buf.MapForRead()
	var mapped unsafe.Pointer
	vk.MapMemory(d.device, d.stagingBufferMemory, 0, size, 0, &mapped)
	src := (*[1 << 30]byte)(mapped)[:vt.bytes:vt.bytes]
	copy(dst, src)
	vk.UnmapMemory(d.device, d.stagingBufferMemory)
	return buf, nil
}

func (d *VulkanDevice) submitAndWait() error {
	vk.ResetFences(d.device, 1, []vk.Fence{d.fence})
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{d.commandBuffer},
	}
	if res := vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{submitInfo}, d.fence); res != vk.Success {
		return fmt.Errorf("%w: vkQueueSubmit failed: %d", ErrDeviceLost, res)
	}
	if res := vk.WaitForFences(d.device, 1, []vk.Fence{d.fence}, vk.True, ^uint64(0)); res != vk.Success {
		return fmt.Errorf("%w: vkWaitForFences failed: %d", ErrDeviceLost, res)
	}
	return nil
}

func (d *VulkanDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stagingBuffer != vk.NullBuffer {
		vk.DestroyBuffer(d.device, d.stagingBuffer, nil)
		vk.FreeMemory(d.device, d.stagingBufferMemory, nil)
	}
	vk.DestroyFence(d.device, d.fence, nil)
	vk.DestroyCommandPool(d.device, d.commandPool, nil)
	vk.DestroyDevice(d.device, nil)
	vk.DestroyInstance(d.instance, nil)
	return nil
}

func safeCString(s string) string { return s + "\x00" }
