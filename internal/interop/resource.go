package interop

import (
	"errors"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/gl"
)

// Zero-copy rules for host pointers wrapped with CL_MEM_USE_HOST_PTR.
const (
	ZeroCopyAlignment = 4096
	ZeroCopySizeAlign = 64
)

// ZeroCopyCompatible reports whether a host area can be used without copies.
func ZeroCopyCompatible(ptr uintptr, size int) bool {
	return ptr%ZeroCopyAlignment == 0 && size%ZeroCopySizeAlign == 0
}

// sharedResource is the compute side of the frame target for one mode.
//
// acquire hands ownership to OpenCL and returns the memory object kernels
// write to; release hands it back to OpenGL. Between the two, GL must not
// touch the underlying object.
type sharedResource interface {
	mode() Mode
	acquire() (cl.MemID, error)
	release() error
	close() error
}

type textureResource struct {
	driver cl.Driver
	queue  cl.QueueID
	mem    cl.MemID
}

func newTextureResource(rt *cl.Runtime, texture uint32) (*textureResource, error) {
	mem, err := rt.Driver().CreateFromGLTexture(rt.Context, cl.MemWriteOnly, cl.GLTexture2D, 0, texture)
	if err != nil {
		return nil, err
	}
	return &textureResource{driver: rt.Driver(), queue: rt.Queue(), mem: mem}, nil
}

func (r *textureResource) mode() Mode { return ModeTexture }

func (r *textureResource) acquire() (cl.MemID, error) {
	if err := r.driver.EnqueueAcquireGLObjects(r.queue, []cl.MemID{r.mem}); err != nil {
		return 0, err
	}
	return r.mem, nil
}

func (r *textureResource) release() error {
	return r.driver.EnqueueReleaseGLObjects(r.queue, []cl.MemID{r.mem})
}

func (r *textureResource) close() error {
	if r.mem == 0 {
		return nil
	}
	err := r.driver.ReleaseMemObject(r.mem)
	r.mem = 0
	return err
}

// stagedBufferResource wraps the pixel buffer once; the session copies it
// into the texture after every release.
type stagedBufferResource struct {
	textureResource
}

func newStagedBufferResource(rt *cl.Runtime, pbo uint32) (*stagedBufferResource, error) {
	mem, err := rt.Driver().CreateFromGLBuffer(rt.Context, cl.MemWriteOnly, pbo)
	if err != nil {
		return nil, err
	}
	return &stagedBufferResource{textureResource{driver: rt.Driver(), queue: rt.Queue(), mem: mem}}, nil
}

func (r *stagedBufferResource) mode() Mode { return ModeBufferPBO }

// mappedBufferResource maps the pixel buffer every frame and wraps whatever
// pointer GL returned in a fresh CL buffer.
type mappedBufferResource struct {
	driver  cl.Driver
	context cl.ContextID
	queue   cl.QueueID
	gfx     gl.Graphics
	pbo     uint32
	size    int
	warn    func(error)

	mem    cl.MemID
	mapped bool
}

func newMappedBufferResource(rt *cl.Runtime, gfx gl.Graphics, pbo uint32, size int, warn func(error)) *mappedBufferResource {
	return &mappedBufferResource{
		driver:  rt.Driver(),
		context: rt.Context,
		queue:   rt.Queue(),
		gfx:     gfx,
		pbo:     pbo,
		size:    size,
		warn:    warn,
	}
}

func (r *mappedBufferResource) mode() Mode { return ModeBufferMap }

func (r *mappedBufferResource) acquire() (cl.MemID, error) {
	ptr, err := r.gfx.MapPixelBuffer(r.pbo)
	if err != nil {
		return 0, err
	}
	r.mapped = true

	if !ZeroCopyCompatible(uintptr(ptr), r.size) {
		r.warn(&errs.ZeroCopyDegradation{Ptr: uintptr(ptr), Size: r.size})
	}

	mem, err := r.driver.CreateBuffer(r.context, cl.MemWriteOnly|cl.MemUseHostPtr, r.size, ptr)
	if err != nil {
		r.mapped = false
		return 0, errors.Join(err, r.gfx.UnmapPixelBuffer(r.pbo))
	}
	r.mem = mem
	return mem, nil
}

// release forces the runtime to write back into the host pointer with a
// blocking map/unmap, drops the wrapper and unmaps the GL buffer. Every step
// runs even if an earlier one fails.
func (r *mappedBufferResource) release() error {
	var errList []error
	if r.mem != 0 {
		p, err := r.driver.EnqueueMapBuffer(r.queue, r.mem, cl.MapWrite, 0, r.size)
		if err != nil {
			errList = append(errList, err)
		} else if err := r.driver.EnqueueUnmapMemObject(r.queue, r.mem, p); err != nil {
			errList = append(errList, err)
		}
		if err := r.driver.ReleaseMemObject(r.mem); err != nil {
			errList = append(errList, err)
		}
		r.mem = 0
	}
	if r.mapped {
		if err := r.gfx.UnmapPixelBuffer(r.pbo); err != nil {
			errList = append(errList, err)
		}
		r.mapped = false
	}
	return errors.Join(errList...)
}

func (r *mappedBufferResource) close() error {
	return r.release()
}
