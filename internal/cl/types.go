package cl

import "strings"

// Opaque driver handles. The OpenCL driver stores native pointers in them;
// fakes hand out small counters.
type (
	PlatformID uintptr
	DeviceID   uintptr
	ContextID  uintptr
	QueueID    uintptr
	ProgramID  uintptr
	KernelID   uintptr
	MemID      uintptr
	EventID    uintptr
)

// ContextProperty is one cl_context_properties slot.
type ContextProperty uintptr

// Context property keys, values as defined by cl.h and cl_gl.h.
const (
	PropContextPlatform ContextProperty = 0x1084
	PropGLContextKHR    ContextProperty = 0x2008
	PropEGLDisplayKHR   ContextProperty = 0x2009
	PropGLXDisplayKHR   ContextProperty = 0x200A
	PropWGLHDCKHR       ContextProperty = 0x200B
	PropCGLShareGroup   ContextProperty = 0x200C
)

// PropertyPair is a caller supplied key/value context property.
type PropertyPair struct {
	Key   ContextProperty
	Value uintptr
}

// QueueProperties is a cl_command_queue_properties bitfield.
type QueueProperties uint64

const (
	QueueOutOfOrder QueueProperties = 1 << 0
	QueueProfiling  QueueProperties = 1 << 1
)

// MemFlags is a cl_mem_flags bitfield.
type MemFlags uint64

const (
	MemReadWrite  MemFlags = 1 << 0
	MemWriteOnly  MemFlags = 1 << 1
	MemReadOnly   MemFlags = 1 << 2
	MemUseHostPtr MemFlags = 1 << 3
)

// MapFlags is a cl_map_flags bitfield.
type MapFlags uint64

const (
	MapRead  MapFlags = 1 << 0
	MapWrite MapFlags = 1 << 1
)

// GLTexture2D is the GL_TEXTURE_2D target passed to clCreateFromGLTexture.
const GLTexture2D = 0x0DE1

// Extension tokens inspected on the selected device.
const (
	ExtGLSharing = "cl_khr_gl_sharing"
	ExtGLEvent   = "cl_khr_gl_event"
)

// Platform is an enumerated OpenCL platform.
type Platform struct {
	ID   PlatformID
	Name string
}

// Device is an enumerated OpenCL device.
type Device struct {
	ID         DeviceID
	Name       string
	Type       DeviceType
	Extensions string
}

// HasExtension reports whether ext appears in the device extension string.
func (d Device) HasExtension(ext string) bool {
	for _, e := range strings.Fields(d.Extensions) {
		if e == ext {
			return true
		}
	}
	return false
}

// SupportsGLSharing reports cl_khr_gl_sharing.
func (d Device) SupportsGLSharing() bool { return d.HasExtension(ExtGLSharing) }

// SupportsGLEvent reports cl_khr_gl_event, which makes acquire/release
// implicitly synchronize with a GL context bound on the same thread.
func (d Device) SupportsGLEvent() bool { return d.HasExtension(ExtGLEvent) }
