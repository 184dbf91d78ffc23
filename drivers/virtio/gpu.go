package virtio

import (
	"errors"

	"github.com/driftos/devscan/dma"
)

const (
	gpuControlQueue = 0
	gpuQueueSize    = 64

	// Scanout geometry is negotiated via control commands after discovery;
	// the framebuffer is sized for the boot console mode.
	gpuWidth  = 1024
	gpuHeight = 768
	gpuBPP    = 4
)

// GPUDevice is a bound virtio display device with a coherent framebuffer
// the device scans out from.
type GPUDevice struct {
	t       transport
	control *queue
	fb      dma.Buf
	hal     *dma.Adapter
}

func newGPUDevice(t transport, hal *dma.Adapter) (*GPUDevice, error) {
	d := &GPUDevice{t: t, hal: hal}

	var err error
	if d.control, err = newQueue(hal, t, gpuControlQueue, gpuQueueSize); err != nil {
		return nil, err
	}

	d.fb = hal.AllocCoherent(gpuWidth * gpuHeight * gpuBPP)
	if !d.fb.Valid() {
		d.control.release()
		return nil, errors.New("virtio-gpu: coherent framebuffer allocation failed")
	}

	return d, nil
}

func (d *GPUDevice) DeviceName() string {
	return "virtio-gpu"
}

func (d *GPUDevice) Resolution() (int, int) {
	return gpuWidth, gpuHeight
}

func (d *GPUDevice) Framebuffer() []byte {
	return d.hal.Bytes(d.fb)
}

// Present flushes the framebuffer to the scanout.
func (d *GPUDevice) Present() error {
	d.t.Notify(gpuControlQueue)
	return nil
}
