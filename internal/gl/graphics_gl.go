//go:build gpu

package gl

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/go-gl/gl/v4.3-core/gl"

	"github.com/cwbudde/clglinterop/internal/errs"
)

type glGraphics struct {
	readFBO uint32
}

// New loads the GL function pointers for the current context. The window
// must have made its context current before.
func New() (Graphics, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	slog.Info("OpenGL initialized",
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
	)

	g := &glGraphics{}
	gl.GenFramebuffers(1, &g.readFBO)
	if err := check("glGenFramebuffers"); err != nil {
		return nil, err
	}
	return g, nil
}

// check drains glGetError and reports the first error seen.
func check(call string) error {
	code := gl.GetError()
	if code == gl.NO_ERROR {
		return nil
	}
	for gl.GetError() != gl.NO_ERROR {
	}
	return errs.GL(call, int(code))
}

func (g *glGraphics) Finish() error {
	gl.Finish()
	return check("glFinish")
}

func (g *glGraphics) CreateTexture(w, h int) (uint32, error) {
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(w), int32(h), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	if err := check("glTexImage2D"); err != nil {
		gl.DeleteTextures(1, &tex)
		return 0, err
	}
	return tex, nil
}

func (g *glGraphics) DeleteTexture(tex uint32) {
	gl.DeleteTextures(1, &tex)
}

func (g *glGraphics) CreatePixelBuffer(size int) (uint32, error) {
	var buf uint32
	gl.GenBuffers(1, &buf)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, buf)
	gl.BufferData(gl.PIXEL_UNPACK_BUFFER, size, nil, gl.STREAM_DRAW)
	if err := check("glBufferData"); err != nil {
		gl.DeleteBuffers(1, &buf)
		return 0, err
	}
	return buf, nil
}

func (g *glGraphics) DeletePixelBuffer(buf uint32) {
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)
	gl.DeleteBuffers(1, &buf)
}

func (g *glGraphics) MapPixelBuffer(buf uint32) (unsafe.Pointer, error) {
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, buf)
	ptr := gl.MapBuffer(gl.PIXEL_UNPACK_BUFFER, gl.WRITE_ONLY)
	if err := check("glMapBuffer"); err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, errs.GL("glMapBuffer", int(gl.INVALID_OPERATION))
	}
	return ptr, nil
}

func (g *glGraphics) UnmapPixelBuffer(buf uint32) error {
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, buf)
	gl.UnmapBuffer(gl.PIXEL_UNPACK_BUFFER)
	return check("glUnmapBuffer")
}

func (g *glGraphics) UploadTexture(tex, buf uint32, w, h int) error {
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, buf)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, nil)
	return check("glTexSubImage2D")
}

func (g *glGraphics) Present(tex uint32, w, h int) error {
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, g.readFBO)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.BlitFramebuffer(0, 0, int32(w), int32(h), 0, 0, int32(w), int32(h), gl.COLOR_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	return check("glBlitFramebuffer")
}
