// Package window provides the native window that owns the OpenGL context
// an interop session is bound to, and the frame loop that drives it.
package window

import (
	"context"
	"errors"

	"github.com/cwbudde/clglinterop/internal/cl"
)

// ErrNotBuilt is returned by Open when the binary was built without the gpu
// tag or for a platform without native handle support.
var ErrNotBuilt = errors.New("window support not built in (rebuild with -tags gpu on linux)")

// Key is a keyboard key the frame loop reacts to.
type Key int

const (
	KeyUnknown Key = iota
	KeyTab
	KeyEscape
)

// Config describes the window to open.
type Config struct {
	Width  int
	Height int
	Title  string
	VSync  bool
}

// Window is a window with a current OpenGL 4.3 core context.
// All methods must be called on the thread that opened it.
type Window interface {
	// Handles are the native GL context and display the OpenCL context binds to.
	Handles() cl.NativeHandles
	ShouldClose() bool
	SetShouldClose(bool)
	// PollEvents processes pending events and returns the keys pressed since
	// the previous call.
	PollEvents() []Key
	Swap() error
	SetTitle(string)
	Close()
}

// Target is what the loop renders.
type Target interface {
	Frame() error
	NextMode() error
}

// Loop renders frames until the window closes, ctx is done or maxFrames
// frames were rendered (0 means no limit). TAB switches to the next mode,
// Escape closes the window. It returns the number of frames rendered.
func Loop(ctx context.Context, w Window, t Target, maxFrames uint64) (uint64, error) {
	var frames uint64
	for !w.ShouldClose() {
		if err := ctx.Err(); err != nil {
			return frames, nil
		}
		for _, k := range w.PollEvents() {
			switch k {
			case KeyTab:
				if err := t.NextMode(); err != nil {
					return frames, err
				}
			case KeyEscape:
				w.SetShouldClose(true)
			}
		}
		if w.ShouldClose() {
			break
		}
		if err := t.Frame(); err != nil {
			return frames, err
		}
		frames++
		if maxFrames > 0 && frames >= maxFrames {
			break
		}
	}
	return frames, nil
}
