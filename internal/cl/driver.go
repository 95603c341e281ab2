package cl

import (
	"errors"
	"unsafe"
)

// Driver is the slice of the OpenCL API used by this module. Implementations
// return *errs.DriverError for failing calls.
//
// The real implementation lives behind the gpu build tag; tests use the
// in-memory fake from package cltest.
type Driver interface {
	PlatformIDs() ([]PlatformID, error)
	PlatformName(id PlatformID) (string, error)
	DeviceIDs(platform PlatformID, typ DeviceType) ([]DeviceID, error)
	DeviceName(id DeviceID) (string, error)
	DeviceType(id DeviceID) (DeviceType, error)
	DeviceExtensions(id DeviceID) (string, error)

	CreateContext(props []ContextProperty, devices []DeviceID) (ContextID, error)
	ReleaseContext(ctx ContextID) error
	CreateQueue(ctx ContextID, device DeviceID, props QueueProperties) (QueueID, error)
	ReleaseQueue(q QueueID) error
	Finish(q QueueID) error

	CreateProgramWithSource(ctx ContextID, source []byte) (ProgramID, error)
	BuildProgram(p ProgramID, devices []DeviceID, options string) error
	ProgramBuildLog(p ProgramID, device DeviceID) (string, error)
	ReleaseProgram(p ProgramID) error
	CreateKernel(p ProgramID, name string) (KernelID, error)
	ReleaseKernel(k KernelID) error
	// SetKernelArg accepts MemID, int32, uint32, float32, [4]float32 and [4]uint8.
	SetKernelArg(k KernelID, index int, value any) error
	// EnqueueNDRangeKernel enqueues without waiting. The returned event must be released.
	EnqueueNDRangeKernel(q QueueID, k KernelID, offset, global, local []int) (EventID, error)
	WaitForEvents(events []EventID) error
	ReleaseEvent(e EventID) error

	CreateBuffer(ctx ContextID, flags MemFlags, size int, host unsafe.Pointer) (MemID, error)
	CreateFromGLBuffer(ctx ContextID, flags MemFlags, buffer uint32) (MemID, error)
	CreateFromGLTexture(ctx ContextID, flags MemFlags, target uint32, level int, texture uint32) (MemID, error)
	ReleaseMemObject(m MemID) error
	EnqueueAcquireGLObjects(q QueueID, mems []MemID) error
	EnqueueReleaseGLObjects(q QueueID, mems []MemID) error
	// EnqueueMapBuffer is blocking.
	EnqueueMapBuffer(q QueueID, m MemID, flags MapFlags, offset, size int) (unsafe.Pointer, error)
	EnqueueUnmapMemObject(q QueueID, m MemID, ptr unsafe.Pointer) error
	// ReadBuffer is blocking.
	ReadBuffer(q QueueID, m MemID, offset int, dst []byte) error
}

// ErrNotBuilt indicates the binary was built without OpenCL support.
var ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
