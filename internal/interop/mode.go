package interop

import (
	"strings"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// Mode is a strategy for sharing the frame target between OpenGL and OpenCL.
type Mode int

const (
	// ModeTexture shares the GL texture itself as a CL image (zero-copy).
	ModeTexture Mode = iota
	// ModeBufferPBO shares a pixel unpack buffer, then copies it into the texture.
	ModeBufferPBO
	// ModeBufferMap maps the pixel buffer on the host and wraps the pointer in a CL buffer.
	ModeBufferMap
)

// Modes lists every mode in cycling order.
var Modes = []Mode{ModeTexture, ModeBufferPBO, ModeBufferMap}

func (m Mode) String() string {
	switch m {
	case ModeTexture:
		return "texture"
	case ModeBufferPBO:
		return "pbo"
	case ModeBufferMap:
		return "map"
	default:
		return "unknown"
	}
}

// Description is the human readable mode name used in reports and the window title.
func (m Mode) Description() string {
	switch m {
	case ModeTexture:
		return "Image-based (zero-copy)"
	case ModeBufferPBO:
		return "PBO sharing with copy"
	case ModeBufferMap:
		return "Plain Map/Unmap"
	default:
		return "Unknown"
	}
}

// InteropStep names the work measured as interop overhead in this mode.
func (m Mode) InteropStep() string {
	switch m {
	case ModeTexture:
		return "GL texture acquire/release in OpenCL"
	case ModeBufferPBO:
		return "PBO acquire/release in OpenCL+glTexSubImage2D"
	default:
		return "glMap/Unmap+clCreateBuffer+clEnqueueMap/Unmap"
	}
}

// Next returns the mode after m in Texture, BufferPBO, BufferMap order.
func (m Mode) Next() Mode {
	return Modes[(int(m)+1)%len(Modes)]
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= ModeTexture && m <= ModeBufferMap
}

// buffered reports whether the mode needs a pixel unpack buffer.
func (m Mode) buffered() bool {
	return m == ModeBufferPBO || m == ModeBufferMap
}

// ParseMode accepts texture (or image), pbo and map, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "texture", "image":
		return ModeTexture, nil
	case "pbo", "buffer":
		return ModeBufferPBO, nil
	case "map":
		return ModeBufferMap, nil
	}
	return 0, errs.Configuration("mode", "unknown interop mode %q (want texture, pbo or map)", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
