// Package render draws a Mandelbrot set image either on the CPU or split by
// rows across every OpenCL device of a context, one command queue per device.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/errs"
)

// Backend identifies a renderer implementation.
type Backend string

const (
	BackendCPU    Backend = "cpu"
	BackendOpenCL Backend = "opencl"
)

// ErrUnknownBackend is returned when the name does not match a known backend.
var ErrUnknownBackend = errors.New("unknown renderer backend")

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return BackendCPU
	case "", "gpu", "opencl", "cl":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// Params describes the image to render.
type Params struct {
	Width   int
	Height  int
	Bound   float32
	Bailout int
}

// DefaultParams matches the classic benchmark size.
func DefaultParams() Params {
	return Params{Width: 3500, Height: 2500, Bound: 2, Bailout: 200}
}

// Validate rejects unusable parameters.
func (p Params) Validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return errs.Configuration("render", "invalid image size %dx%d", p.Width, p.Height)
	case p.Bound <= 0:
		return errs.Configuration("render", "bound must be positive, got %g", p.Bound)
	case p.Bailout <= 0:
		return errs.Configuration("render", "bailout must be positive, got %d", p.Bailout)
	}
	return nil
}

// Renderer produces a grayscale image where brighter means slower escape.
type Renderer interface {
	Render(ctx context.Context, p Params) (*image.Gray, error)
}

// NewRenderer constructs the requested renderer. rt is only used by the
// OpenCL backend. The returned cleanup must be called when done.
func NewRenderer(name string, rt *cl.Runtime, opts cl.ProgramOptions) (Renderer, func() error, error) {
	switch backend := NormalizeBackend(name); backend {
	case BackendCPU:
		return NewCPURenderer(0), func() error { return nil }, nil
	case BackendOpenCL:
		if rt == nil {
			return nil, nil, errs.Configuration("render", "opencl backend needs an OpenCL runtime")
		}
		r, err := NewPartitioned(rt, opts)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
