package simulated

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/ascompact/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Buffer is a gpu.Buffer backed by host memory
type Buffer struct {
	device    *Device
	address   uint64
	info      gpu.BufferCreateInfo
	data      []byte
	destroyed bool
}

var _ gpu.Buffer = &Buffer{}

// DeviceAddress returns the address of the first byte of the buffer
func (b *Buffer) DeviceAddress() uint64 { return b.address }

// Size returns the size of the buffer in bytes
func (b *Buffer) Size() int { return len(b.data) }

// Info returns the parameters the buffer was created with
func (b *Buffer) Info() gpu.BufferCreateInfo { return b.info }

// ReadAt reads from the buffer's memory. Only host-visible buffers can be read.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if b.destroyed {
		return 0, errors.Newf("attempted to read from destroyed buffer %q", b.info.Name)
	}
	if b.info.Residency&core1_0.MemoryPropertyHostVisible == 0 {
		return 0, errors.Newf("attempted to read from buffer %q, which is not host-visible", b.info.Name)
	}
	if off < 0 {
		return 0, errors.Newf("negative offset %d", off)
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Destroy frees the buffer. Its address range is never handed out again.
func (b *Buffer) Destroy() {
	if b.destroyed {
		panic("attempted to destroy a buffer twice")
	}

	b.destroyed = true
	b.device.removeBuffer(b)
	b.data = nil
}
