// Package gl is the OpenGL side of the interop layer: the texture the
// compute kernel writes to, the pixel unpack buffer used by the buffer modes,
// and presentation of the texture to the default framebuffer.
package gl

import (
	"errors"
	"unsafe"
)

// Graphics is the set of OpenGL operations the interop layer needs. All
// methods must be called on the thread that owns the current GL context.
type Graphics interface {
	// Finish blocks until all submitted GL commands completed (glFinish).
	Finish() error

	// CreateTexture allocates an RGBA8 2D texture of w x h texels.
	CreateTexture(w, h int) (uint32, error)
	DeleteTexture(tex uint32)

	// CreatePixelBuffer allocates a GL_PIXEL_UNPACK_BUFFER of size bytes
	// and leaves it bound.
	CreatePixelBuffer(size int) (uint32, error)
	DeletePixelBuffer(buf uint32)
	// MapPixelBuffer maps buf write-only and returns the host pointer.
	MapPixelBuffer(buf uint32) (unsafe.Pointer, error)
	UnmapPixelBuffer(buf uint32) error

	// UploadTexture copies w x h RGBA8 texels from the bound unpack buffer
	// into tex (glTexSubImage2D with a zero offset).
	UploadTexture(tex, buf uint32, w, h int) error

	// Present draws tex over the whole default framebuffer.
	Present(tex uint32, w, h int) error
}

// ErrNotBuilt indicates the binary was built without OpenGL support.
var ErrNotBuilt = errors.New("opengl support requires building with '-tags gpu'")

// BytesPerPixel is the size of one RGBA8 texel.
const BytesPerPixel = 4
