//go:build gpu && linux

package window

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/cwbudde/clglinterop/internal/cl"
)

type glfwWindow struct {
	w       *glfw.Window
	pressed []Key
}

// Open initializes glfw, creates the window and makes its context current.
// The caller must have locked the OS thread.
func Open(cfg Config) (Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	w, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}
	w.MakeContextCurrent()
	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	win := &glfwWindow{w: w}
	w.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyTab:
			win.pressed = append(win.pressed, KeyTab)
		case glfw.KeyEscape:
			win.pressed = append(win.pressed, KeyEscape)
		}
	})

	slog.Info("Window opened", "width", cfg.Width, "height", cfg.Height)
	return win, nil
}

func (g *glfwWindow) Handles() cl.NativeHandles {
	return cl.NativeHandles{
		GLContext:  uintptr(unsafe.Pointer(g.w.GetGLXContext())),
		Display:    uintptr(unsafe.Pointer(glfw.GetX11Display())),
		DisplayKey: cl.PropGLXDisplayKHR,
	}
}

func (g *glfwWindow) ShouldClose() bool     { return g.w.ShouldClose() }
func (g *glfwWindow) SetShouldClose(v bool) { g.w.SetShouldClose(v) }

func (g *glfwWindow) PollEvents() []Key {
	glfw.PollEvents()
	keys := g.pressed
	g.pressed = nil
	return keys
}

func (g *glfwWindow) Swap() error {
	g.w.SwapBuffers()
	return nil
}

func (g *glfwWindow) SetTitle(title string) { g.w.SetTitle(title) }

func (g *glfwWindow) Close() {
	g.w.Destroy()
	glfw.Terminate()
}
