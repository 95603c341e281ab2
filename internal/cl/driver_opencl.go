//go:build gpu

package cl

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#include <CL/cl_gl.h>
#endif
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/cwbudde/clglinterop/internal/errs"
)

type openCLDriver struct{}

// NewOpenCLDriver returns the cgo backed OpenCL driver.
func NewOpenCLDriver() (Driver, error) {
	var count C.cl_uint
	if status := C.clGetPlatformIDs(0, nil, &count); status != C.CL_SUCCESS {
		return nil, errs.CL("clGetPlatformIDs(count)", int(status))
	}
	return openCLDriver{}, nil
}

func statusError(call string, status C.cl_int) error {
	if status == C.CL_SUCCESS {
		return nil
	}
	return errs.CL(call, int(status))
}

func cPlatform(id PlatformID) C.cl_platform_id { return C.cl_platform_id(unsafe.Pointer(uintptr(id))) }
func cDevice(id DeviceID) C.cl_device_id       { return C.cl_device_id(unsafe.Pointer(uintptr(id))) }
func cContext(id ContextID) C.cl_context       { return C.cl_context(unsafe.Pointer(uintptr(id))) }
func cQueue(id QueueID) C.cl_command_queue     { return C.cl_command_queue(unsafe.Pointer(uintptr(id))) }
func cProgram(id ProgramID) C.cl_program       { return C.cl_program(unsafe.Pointer(uintptr(id))) }
func cKernel(id KernelID) C.cl_kernel          { return C.cl_kernel(unsafe.Pointer(uintptr(id))) }
func cMem(id MemID) C.cl_mem                   { return C.cl_mem(unsafe.Pointer(uintptr(id))) }
func cEvent(id EventID) C.cl_event             { return C.cl_event(unsafe.Pointer(uintptr(id))) }

func cMems(ids []MemID) []C.cl_mem {
	out := make([]C.cl_mem, len(ids))
	for i, id := range ids {
		out[i] = cMem(id)
	}
	return out
}

func cDevices(ids []DeviceID) []C.cl_device_id {
	out := make([]C.cl_device_id, len(ids))
	for i, id := range ids {
		out[i] = cDevice(id)
	}
	return out
}

func cSizes(v []int) []C.size_t {
	out := make([]C.size_t, len(v))
	for i, x := range v {
		out[i] = C.size_t(x)
	}
	return out
}

func (openCLDriver) PlatformIDs() ([]PlatformID, error) {
	var count C.cl_uint
	if status := C.clGetPlatformIDs(0, nil, &count); status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_platform_id, int(count))
	if status := C.clGetPlatformIDs(count, &ids[0], nil); status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	out := make([]PlatformID, len(ids))
	for i, id := range ids {
		out[i] = PlatformID(uintptr(unsafe.Pointer(id)))
	}
	return out, nil
}

func (openCLDriver) PlatformName(id PlatformID) (string, error) {
	var size C.size_t
	if status := C.clGetPlatformInfo(cPlatform(id), C.CL_PLATFORM_NAME, 0, nil, &size); status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	if status := C.clGetPlatformInfo(cPlatform(id), C.CL_PLATFORM_NAME, size, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", status)
	}
	return trimNull(buf), nil
}

func (openCLDriver) DeviceIDs(platform PlatformID, typ DeviceType) ([]DeviceID, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(cPlatform(platform), C.cl_device_type(typ), 0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(cPlatform(platform), C.cl_device_type(typ), count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	out := make([]DeviceID, len(ids))
	for i, id := range ids {
		out[i] = DeviceID(uintptr(unsafe.Pointer(id)))
	}
	return out, nil
}

func getDeviceString(id DeviceID, param C.cl_device_info) (string, error) {
	var size C.size_t
	if status := C.clGetDeviceInfo(cDevice(id), param, 0, nil, &size); status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	if status := C.clGetDeviceInfo(cDevice(id), param, size, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", status)
	}
	return trimNull(buf), nil
}

func (openCLDriver) DeviceName(id DeviceID) (string, error) {
	return getDeviceString(id, C.CL_DEVICE_NAME)
}

func (openCLDriver) DeviceExtensions(id DeviceID) (string, error) {
	return getDeviceString(id, C.CL_DEVICE_EXTENSIONS)
}

func (openCLDriver) DeviceType(id DeviceID) (DeviceType, error) {
	var raw C.cl_device_type
	status := C.clGetDeviceInfo(cDevice(id), C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(raw)), unsafe.Pointer(&raw), nil)
	if status != C.CL_SUCCESS {
		return 0, statusError("clGetDeviceInfo(type)", status)
	}
	return DeviceType(raw), nil
}

func (openCLDriver) CreateContext(props []ContextProperty, devices []DeviceID) (ContextID, error) {
	cprops := make([]C.cl_context_properties, len(props))
	for i, p := range props {
		cprops[i] = C.cl_context_properties(p)
	}
	cdevs := cDevices(devices)

	var status C.cl_int
	ctx := C.clCreateContext(&cprops[0], C.cl_uint(len(cdevs)), &cdevs[0], nil, nil, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateContext", status)
	}
	return ContextID(uintptr(unsafe.Pointer(ctx))), nil
}

func (openCLDriver) ReleaseContext(ctx ContextID) error {
	return statusError("clReleaseContext", C.clReleaseContext(cContext(ctx)))
}

func (openCLDriver) CreateQueue(ctx ContextID, device DeviceID, props QueueProperties) (QueueID, error) {
	var status C.cl_int
	q := C.clCreateCommandQueue(cContext(ctx), cDevice(device), C.cl_command_queue_properties(props), &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateCommandQueue", status)
	}
	return QueueID(uintptr(unsafe.Pointer(q))), nil
}

func (openCLDriver) ReleaseQueue(q QueueID) error {
	return statusError("clReleaseCommandQueue", C.clReleaseCommandQueue(cQueue(q)))
}

func (openCLDriver) Finish(q QueueID) error {
	return statusError("clFinish", C.clFinish(cQueue(q)))
}

func (openCLDriver) CreateProgramWithSource(ctx ContextID, source []byte) (ProgramID, error) {
	text := (*C.char)(C.CBytes(source))
	defer C.free(unsafe.Pointer(text))

	var status C.cl_int
	p := C.clCreateProgramWithSource(cContext(ctx), 1, &text, nil, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateProgramWithSource", status)
	}
	return ProgramID(uintptr(unsafe.Pointer(p))), nil
}

func (openCLDriver) BuildProgram(p ProgramID, devices []DeviceID, options string) error {
	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))

	cdevs := cDevices(devices)
	var devPtr *C.cl_device_id
	if len(cdevs) > 0 {
		devPtr = &cdevs[0]
	}
	return statusError("clBuildProgram", C.clBuildProgram(cProgram(p), C.cl_uint(len(cdevs)), devPtr, opts, nil, nil))
}

func (openCLDriver) ProgramBuildLog(p ProgramID, device DeviceID) (string, error) {
	var size C.size_t
	status := C.clGetProgramBuildInfo(cProgram(p), cDevice(device), C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetProgramBuildInfo(cProgram(p), cDevice(device), C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(value)", status)
	}
	return trimNull(buf), nil
}

func (openCLDriver) ReleaseProgram(p ProgramID) error {
	return statusError("clReleaseProgram", C.clReleaseProgram(cProgram(p)))
}

func (openCLDriver) CreateKernel(p ProgramID, name string) (KernelID, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	k := C.clCreateKernel(cProgram(p), cname, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError(fmt.Sprintf("clCreateKernel(%s)", name), status)
	}
	return KernelID(uintptr(unsafe.Pointer(k))), nil
}

func (openCLDriver) ReleaseKernel(k KernelID) error {
	return statusError("clReleaseKernel", C.clReleaseKernel(cKernel(k)))
}

func (openCLDriver) SetKernelArg(k KernelID, index int, value any) error {
	var status C.cl_int
	idx := C.cl_uint(index)
	switch v := value.(type) {
	case MemID:
		m := cMem(v)
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(m)), unsafe.Pointer(&m))
	case int32:
		x := C.cl_int(v)
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	case uint32:
		x := C.cl_uint(v)
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	case float32:
		x := C.cl_float(v)
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	case [4]float32:
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v[0]))
	case [4]uint8:
		status = C.clSetKernelArg(cKernel(k), idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v[0]))
	default:
		return errs.CL(fmt.Sprintf("clSetKernelArg(%d, %T)", index, value), errs.CLInvalidArgValue)
	}
	return statusError(fmt.Sprintf("clSetKernelArg(%d)", index), status)
}

func (openCLDriver) EnqueueNDRangeKernel(q QueueID, k KernelID, offset, global, local []int) (EventID, error) {
	gs := cSizes(global)
	var offPtr, localPtr *C.size_t
	if len(offset) > 0 {
		off := cSizes(offset)
		offPtr = &off[0]
	}
	if len(local) > 0 {
		ls := cSizes(local)
		localPtr = &ls[0]
	}

	var ev C.cl_event
	status := C.clEnqueueNDRangeKernel(cQueue(q), cKernel(k), C.cl_uint(len(gs)), offPtr, &gs[0], localPtr, 0, nil, &ev)
	if status != C.CL_SUCCESS {
		return 0, statusError("clEnqueueNDRangeKernel", status)
	}
	return EventID(uintptr(unsafe.Pointer(ev))), nil
}

func (openCLDriver) WaitForEvents(events []EventID) error {
	if len(events) == 0 {
		return nil
	}
	cev := make([]C.cl_event, len(events))
	for i, e := range events {
		cev[i] = cEvent(e)
	}
	return statusError("clWaitForEvents", C.clWaitForEvents(C.cl_uint(len(cev)), &cev[0]))
}

func (openCLDriver) ReleaseEvent(e EventID) error {
	return statusError("clReleaseEvent", C.clReleaseEvent(cEvent(e)))
}

func (openCLDriver) CreateBuffer(ctx ContextID, flags MemFlags, size int, host unsafe.Pointer) (MemID, error) {
	var status C.cl_int
	m := C.clCreateBuffer(cContext(ctx), C.cl_mem_flags(flags), C.size_t(size), host, &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateBuffer", status)
	}
	return MemID(uintptr(unsafe.Pointer(m))), nil
}

func (openCLDriver) CreateFromGLBuffer(ctx ContextID, flags MemFlags, buffer uint32) (MemID, error) {
	var status C.cl_int
	m := C.clCreateFromGLBuffer(cContext(ctx), C.cl_mem_flags(flags), C.cl_GLuint(buffer), &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateFromGLBuffer", status)
	}
	return MemID(uintptr(unsafe.Pointer(m))), nil
}

func (openCLDriver) CreateFromGLTexture(ctx ContextID, flags MemFlags, target uint32, level int, texture uint32) (MemID, error) {
	var status C.cl_int
	m := C.clCreateFromGLTexture(cContext(ctx), C.cl_mem_flags(flags), C.cl_GLenum(target), C.cl_GLint(level), C.cl_GLuint(texture), &status)
	if status != C.CL_SUCCESS {
		return 0, statusError("clCreateFromGLTexture", status)
	}
	return MemID(uintptr(unsafe.Pointer(m))), nil
}

func (openCLDriver) ReleaseMemObject(m MemID) error {
	return statusError("clReleaseMemObject", C.clReleaseMemObject(cMem(m)))
}

func (openCLDriver) EnqueueAcquireGLObjects(q QueueID, mems []MemID) error {
	cm := cMems(mems)
	return statusError("clEnqueueAcquireGLObjects", C.clEnqueueAcquireGLObjects(cQueue(q), C.cl_uint(len(cm)), &cm[0], 0, nil, nil))
}

func (openCLDriver) EnqueueReleaseGLObjects(q QueueID, mems []MemID) error {
	cm := cMems(mems)
	return statusError("clEnqueueReleaseGLObjects", C.clEnqueueReleaseGLObjects(cQueue(q), C.cl_uint(len(cm)), &cm[0], 0, nil, nil))
}

func (openCLDriver) EnqueueMapBuffer(q QueueID, m MemID, flags MapFlags, offset, size int) (unsafe.Pointer, error) {
	var status C.cl_int
	p := C.clEnqueueMapBuffer(cQueue(q), cMem(m), C.CL_TRUE, C.cl_map_flags(flags), C.size_t(offset), C.size_t(size), 0, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clEnqueueMapBuffer", status)
	}
	return p, nil
}

func (openCLDriver) EnqueueUnmapMemObject(q QueueID, m MemID, ptr unsafe.Pointer) error {
	return statusError("clEnqueueUnmapMemObject", C.clEnqueueUnmapMemObject(cQueue(q), cMem(m), ptr, 0, nil, nil))
}

func (openCLDriver) ReadBuffer(q QueueID, m MemID, offset int, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	status := C.clEnqueueReadBuffer(cQueue(q), cMem(m), C.CL_TRUE, C.size_t(offset), C.size_t(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	return statusError("clEnqueueReadBuffer", status)
}

func trimNull(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}
