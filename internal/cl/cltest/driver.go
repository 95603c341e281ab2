// Package cltest provides an in-memory cl.Driver for tests.
//
// The fake hands out counter based handles, keeps a live count per object
// kind, backs buffers with Go memory and records every call by name so tests
// can assert ordering.
package cltest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/errs"
)

// Device describes a fake device.
type Device struct {
	Name       string
	Type       cl.DeviceType
	Extensions string
	// BuildLog is returned by ProgramBuildLog for this device.
	BuildLog string
}

// Platform describes a fake platform and its devices in driver order.
type Platform struct {
	Name    string
	Devices []Device
}

// Dispatch is one recorded kernel enqueue.
type Dispatch struct {
	Queue  cl.QueueID
	Kernel string
	Args   map[int]any
	Offset []int
	Global []int
}

// Driver is a fake cl.Driver. The zero value is not usable; call New.
type Driver struct {
	mu sync.Mutex

	platforms   []Platform
	platformIDs []cl.PlatformID
	deviceIDs   [][]cl.DeviceID
	devices     map[cl.DeviceID]Device

	next  uintptr
	calls []string
	live  map[string]int
	fail  map[string]int

	kernelNames map[cl.KernelID]string
	kernelArgs  map[cl.KernelID]map[int]any
	buffers     map[cl.MemID][]byte
	hostPtrs    map[cl.MemID]unsafe.Pointer
	memKinds    map[cl.MemID]string

	// LastProperties is the property list of the most recent CreateContext.
	LastProperties []cl.ContextProperty
	// LastBuildOptions is the option string of the most recent BuildProgram.
	LastBuildOptions string
	// BuildFailure makes BuildProgram fail with CL_BUILD_PROGRAM_FAILURE.
	BuildFailure bool
	// Dispatches lists every kernel enqueue in order.
	Dispatches []Dispatch
	// OnDispatch, when set, runs for every enqueue and may write into buffers.
	OnDispatch func(d *Driver, disp Dispatch)
	// Record, when set, receives every call name as it is recorded.
	Record func(call string)
}

var _ cl.Driver = (*Driver)(nil)

// New returns a fake driver exposing platforms.
func New(platforms ...Platform) *Driver {
	d := &Driver{
		platforms:   platforms,
		devices:     make(map[cl.DeviceID]Device),
		live:        make(map[string]int),
		fail:        make(map[string]int),
		kernelNames: make(map[cl.KernelID]string),
		kernelArgs:  make(map[cl.KernelID]map[int]any),
		buffers:     make(map[cl.MemID][]byte),
		hostPtrs:    make(map[cl.MemID]unsafe.Pointer),
		memKinds:    make(map[cl.MemID]string),
	}
	for _, p := range platforms {
		d.platformIDs = append(d.platformIDs, cl.PlatformID(d.id()))
		ids := make([]cl.DeviceID, len(p.Devices))
		for i, dev := range p.Devices {
			ids[i] = cl.DeviceID(d.id())
			d.devices[ids[i]] = dev
		}
		d.deviceIDs = append(d.deviceIDs, ids)
	}
	return d
}

// GPU returns a GPU device with GL sharing.
func GPU(name string) Device {
	return Device{Name: name, Type: cl.DeviceTypeGPU, Extensions: "cl_khr_fp64 " + cl.ExtGLSharing}
}

// CPU returns a CPU device without GL sharing.
func CPU(name string) Device {
	return Device{Name: name, Type: cl.DeviceTypeCPU, Extensions: "cl_khr_fp64"}
}

func (d *Driver) id() uintptr {
	d.next++
	return d.next
}

func (d *Driver) record(call string) error {
	d.calls = append(d.calls, call)
	if d.Record != nil {
		d.Record(call)
	}
	if code, ok := d.fail[call]; ok {
		return errs.CL(call, code)
	}
	return nil
}

// FailOn makes every later call named call fail with the OpenCL status code.
func (d *Driver) FailOn(call string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[call] = code
}

// Calls returns the recorded call names in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallsMatching returns the recorded calls starting with prefix.
func (d *Driver) CallsMatching(prefix string) []string {
	var out []string
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
	d.Dispatches = nil
}

// Live returns the number of unreleased objects of kind: context, queue,
// program, kernel, mem or event.
func (d *Driver) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

// Leaks lists every kind with live objects.
func (d *Driver) Leaks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for k, n := range d.live {
		if n != 0 {
			out = append(out, fmt.Sprintf("%s=%d", k, n))
		}
	}
	sort.Strings(out)
	return out
}

// Buffer returns the backing store of a buffer created with CreateBuffer.
func (d *Driver) Buffer(m cl.MemID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers[m]
}

// KernelArgs returns the arguments last set on k.
func (d *Driver) KernelArgs(k cl.KernelID) map[int]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]any, len(d.kernelArgs[k]))
	for i, v := range d.kernelArgs[k] {
		out[i] = v
	}
	return out
}

// MemKind reports how m was created: buffer, host, glbuffer or gltexture.
func (d *Driver) MemKind(m cl.MemID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memKinds[m]
}

func (d *Driver) PlatformIDs() ([]cl.PlatformID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("PlatformIDs"); err != nil {
		return nil, err
	}
	return append([]cl.PlatformID(nil), d.platformIDs...), nil
}

func (d *Driver) platformIndex(id cl.PlatformID) int {
	for i, p := range d.platformIDs {
		if p == id {
			return i
		}
	}
	return -1
}

func (d *Driver) PlatformName(id cl.PlatformID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("PlatformName"); err != nil {
		return "", err
	}
	i := d.platformIndex(id)
	if i < 0 {
		return "", errs.CL("clGetPlatformInfo", errs.CLInvalidValue)
	}
	return d.platforms[i].Name, nil
}

// DeviceIDs mimics clGetDeviceIDs: it filters by type and reports
// CL_DEVICE_NOT_FOUND when nothing matches. Like most ICDs, a DEFAULT
// request with no device flagged DEFAULT yields the first device.
func (d *Driver) DeviceIDs(platform cl.PlatformID, typ cl.DeviceType) ([]cl.DeviceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeviceIDs"); err != nil {
		return nil, err
	}
	i := d.platformIndex(platform)
	if i < 0 {
		return nil, errs.CL("clGetDeviceIDs", errs.CLInvalidValue)
	}
	var out []cl.DeviceID
	for _, id := range d.deviceIDs[i] {
		if d.devices[id].Type.Matches(typ) {
			out = append(out, id)
		}
	}
	if len(out) == 0 && typ == cl.DeviceTypeDefault && len(d.deviceIDs[i]) > 0 {
		out = append(out, d.deviceIDs[i][0])
	}
	if len(out) == 0 {
		return nil, errs.CL("clGetDeviceIDs", errs.CLDeviceNotFound)
	}
	return out, nil
}

func (d *Driver) device(call string, id cl.DeviceID) (Device, error) {
	if err := d.record(call); err != nil {
		return Device{}, err
	}
	dev, ok := d.devices[id]
	if !ok {
		return Device{}, errs.CL("clGetDeviceInfo", errs.CLInvalidDevice)
	}
	return dev, nil
}

func (d *Driver) DeviceName(id cl.DeviceID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.device("DeviceName", id)
	return dev.Name, err
}

func (d *Driver) DeviceType(id cl.DeviceID) (cl.DeviceType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.device("DeviceType", id)
	return dev.Type, err
}

func (d *Driver) DeviceExtensions(id cl.DeviceID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.device("DeviceExtensions", id)
	return dev.Extensions, err
}

func (d *Driver) create(call, kind string) (uintptr, error) {
	if err := d.record(call); err != nil {
		return 0, err
	}
	d.live[kind]++
	return d.id(), nil
}

func (d *Driver) release(call, kind string) error {
	if err := d.record(call); err != nil {
		return err
	}
	d.live[kind]--
	return nil
}

func (d *Driver) CreateContext(props []cl.ContextProperty, devices []cl.DeviceID) (cl.ContextID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastProperties = append([]cl.ContextProperty(nil), props...)
	id, err := d.create("CreateContext", "context")
	return cl.ContextID(id), err
}

func (d *Driver) ReleaseContext(cl.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release("ReleaseContext", "context")
}

func (d *Driver) CreateQueue(cl.ContextID, cl.DeviceID, cl.QueueProperties) (cl.QueueID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.create("CreateQueue", "queue")
	return cl.QueueID(id), err
}

func (d *Driver) ReleaseQueue(cl.QueueID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release("ReleaseQueue", "queue")
}

func (d *Driver) Finish(cl.QueueID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("Finish")
}

func (d *Driver) CreateProgramWithSource(_ cl.ContextID, source []byte) (cl.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(source) == 0 || source[len(source)-1] != 0 {
		return 0, errs.CL("clCreateProgramWithSource", errs.CLInvalidValue)
	}
	id, err := d.create("CreateProgramWithSource", "program")
	return cl.ProgramID(id), err
}

func (d *Driver) BuildProgram(_ cl.ProgramID, _ []cl.DeviceID, options string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastBuildOptions = options
	if err := d.record("BuildProgram"); err != nil {
		return err
	}
	if d.BuildFailure {
		return errs.CL("clBuildProgram", errs.CLBuildProgramFailure)
	}
	return nil
}

func (d *Driver) ProgramBuildLog(_ cl.ProgramID, device cl.DeviceID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.device("ProgramBuildLog", device)
	return dev.BuildLog, err
}

func (d *Driver) ReleaseProgram(cl.ProgramID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release("ReleaseProgram", "program")
}

func (d *Driver) CreateKernel(_ cl.ProgramID, name string) (cl.KernelID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.create("CreateKernel", "kernel")
	if err != nil {
		return 0, err
	}
	k := cl.KernelID(id)
	d.kernelNames[k] = name
	d.kernelArgs[k] = make(map[int]any)
	return k, nil
}

func (d *Driver) ReleaseKernel(k cl.KernelID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.kernelArgs, k)
	return d.release("ReleaseKernel", "kernel")
}

func (d *Driver) SetKernelArg(k cl.KernelID, index int, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetKernelArg"); err != nil {
		return err
	}
	switch value.(type) {
	case cl.MemID, int32, uint32, float32, [4]float32, [4]uint8:
	default:
		return errs.CL(fmt.Sprintf("clSetKernelArg(%d, %T)", index, value), errs.CLInvalidArgValue)
	}
	args, ok := d.kernelArgs[k]
	if !ok {
		return errs.CL("clSetKernelArg", errs.CLInvalidValue)
	}
	args[index] = value
	return nil
}

func (d *Driver) EnqueueNDRangeKernel(q cl.QueueID, k cl.KernelID, offset, global, _ []int) (cl.EventID, error) {
	d.mu.Lock()
	id, err := d.create("EnqueueNDRangeKernel", "event")
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	args := make(map[int]any, len(d.kernelArgs[k]))
	for i, v := range d.kernelArgs[k] {
		args[i] = v
	}
	disp := Dispatch{
		Queue:  q,
		Kernel: d.kernelNames[k],
		Args:   args,
		Offset: append([]int(nil), offset...),
		Global: append([]int(nil), global...),
	}
	d.Dispatches = append(d.Dispatches, disp)
	hook := d.OnDispatch
	d.mu.Unlock()

	if hook != nil {
		hook(d, disp)
	}
	return cl.EventID(id), nil
}

func (d *Driver) WaitForEvents([]cl.EventID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("WaitForEvents")
}

func (d *Driver) ReleaseEvent(cl.EventID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release("ReleaseEvent", "event")
}

func (d *Driver) CreateBuffer(_ cl.ContextID, flags cl.MemFlags, size int, host unsafe.Pointer) (cl.MemID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size <= 0 {
		return 0, errs.CL("clCreateBuffer", errs.CLInvalidValue)
	}
	id, err := d.create("CreateBuffer", "mem")
	if err != nil {
		return 0, err
	}
	m := cl.MemID(id)
	if flags&cl.MemUseHostPtr != 0 {
		if host == nil {
			return 0, errs.CL("clCreateBuffer", errs.CLInvalidValue)
		}
		d.hostPtrs[m] = host
		d.buffers[m] = unsafe.Slice((*byte)(host), size)
		d.memKinds[m] = "host"
		return m, nil
	}
	d.buffers[m] = make([]byte, size)
	d.memKinds[m] = "buffer"
	return m, nil
}

func (d *Driver) CreateFromGLBuffer(_ cl.ContextID, _ cl.MemFlags, buffer uint32) (cl.MemID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buffer == 0 {
		return 0, errs.CL("clCreateFromGLBuffer", errs.CLInvalidGLObject)
	}
	id, err := d.create("CreateFromGLBuffer", "mem")
	d.memKinds[cl.MemID(id)] = "glbuffer"
	return cl.MemID(id), err
}

func (d *Driver) CreateFromGLTexture(_ cl.ContextID, _ cl.MemFlags, _ uint32, _ int, texture uint32) (cl.MemID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if texture == 0 {
		return 0, errs.CL("clCreateFromGLTexture", errs.CLInvalidGLObject)
	}
	id, err := d.create("CreateFromGLTexture", "mem")
	d.memKinds[cl.MemID(id)] = "gltexture"
	return cl.MemID(id), err
}

func (d *Driver) ReleaseMemObject(m cl.MemID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, m)
	delete(d.hostPtrs, m)
	return d.release("ReleaseMemObject", "mem")
}

func (d *Driver) EnqueueAcquireGLObjects(cl.QueueID, []cl.MemID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("EnqueueAcquireGLObjects")
}

func (d *Driver) EnqueueReleaseGLObjects(cl.QueueID, []cl.MemID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("EnqueueReleaseGLObjects")
}

func (d *Driver) EnqueueMapBuffer(_ cl.QueueID, m cl.MemID, _ cl.MapFlags, offset, size int) (unsafe.Pointer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("EnqueueMapBuffer"); err != nil {
		return nil, err
	}
	buf, ok := d.buffers[m]
	if !ok || offset+size > len(buf) || size <= 0 {
		return nil, errs.CL("clEnqueueMapBuffer", errs.CLInvalidValue)
	}
	return unsafe.Pointer(&buf[offset]), nil
}

func (d *Driver) EnqueueUnmapMemObject(cl.QueueID, cl.MemID, unsafe.Pointer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("EnqueueUnmapMemObject")
}

func (d *Driver) ReadBuffer(_ cl.QueueID, m cl.MemID, offset int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("ReadBuffer"); err != nil {
		return err
	}
	buf, ok := d.buffers[m]
	if !ok || offset+len(dst) > len(buf) {
		return errs.CL("clEnqueueReadBuffer", errs.CLInvalidValue)
	}
	copy(dst, buf[offset:])
	return nil
}
