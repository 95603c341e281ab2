// Package gltest provides an in-memory gl.Graphics for tests.
package gltest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/gl"
)

// GL error codes used for injected failures.
const (
	InvalidOperation = 0x0502
	OutOfMemory      = 0x0505
)

// Graphics is a fake gl.Graphics. Pixel buffers are backed by Go memory
// aligned to PageAlign unless Misalign is set.
type Graphics struct {
	mu sync.Mutex

	next     uint32
	calls    []string
	fail     map[string]int
	textures map[uint32][]byte
	buffers  map[uint32][]byte
	mapped   map[uint32]bool

	// Misalign offsets mapped pointers by this many bytes from a page boundary.
	Misalign int
	// Record, when set, receives every call name as it is recorded.
	Record func(call string)
}

var _ gl.Graphics = (*Graphics)(nil)

// PageAlign is the alignment of fake pixel buffer storage.
const PageAlign = 4096

// New returns an empty fake.
func New() *Graphics {
	return &Graphics{
		fail:     make(map[string]int),
		textures: make(map[uint32][]byte),
		buffers:  make(map[uint32][]byte),
		mapped:   make(map[uint32]bool),
	}
}

func (g *Graphics) record(call string) error {
	g.calls = append(g.calls, call)
	if g.Record != nil {
		g.Record(call)
	}
	if code, ok := g.fail[call]; ok {
		return errs.GL(call, code)
	}
	return nil
}

// FailOn makes every later call named call fail with the GL error code.
func (g *Graphics) FailOn(call string, code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[call] = code
}

// Calls returns the recorded call names in order.
func (g *Graphics) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// ResetCalls clears the call log.
func (g *Graphics) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// LiveBuffers returns the number of undeleted pixel buffers.
func (g *Graphics) LiveBuffers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffers)
}

// LiveTextures returns the number of undeleted textures.
func (g *Graphics) LiveTextures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.textures)
}

// Mapped reports whether buf is currently mapped.
func (g *Graphics) Mapped(buf uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mapped[buf]
}

// Texture returns the texel storage of tex.
func (g *Graphics) Texture(tex uint32) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.textures[tex]
}

// PixelBuffer returns the storage of buf.
func (g *Graphics) PixelBuffer(buf uint32) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buffers[buf]
}

func (g *Graphics) Finish() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record("Finish")
}

func (g *Graphics) CreateTexture(w, h int) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("CreateTexture"); err != nil {
		return 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, errs.GL("glTexImage2D", InvalidOperation)
	}
	g.next++
	g.textures[g.next] = make([]byte, w*h*gl.BytesPerPixel)
	return g.next, nil
}

func (g *Graphics) DeleteTexture(tex uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.record("DeleteTexture")
	delete(g.textures, tex)
}

func (g *Graphics) CreatePixelBuffer(size int) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("CreatePixelBuffer"); err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, errs.GL("glBufferData", InvalidOperation)
	}
	raw := make([]byte, size+2*PageAlign)
	base := uintptr(unsafe.Pointer(&raw[0]))
	off := int((PageAlign - base%PageAlign) % PageAlign)
	off += g.Misalign
	g.next++
	g.buffers[g.next] = raw[off : off+size]
	return g.next, nil
}

func (g *Graphics) DeletePixelBuffer(buf uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.record("DeletePixelBuffer")
	delete(g.buffers, buf)
	delete(g.mapped, buf)
}

func (g *Graphics) MapPixelBuffer(buf uint32) (unsafe.Pointer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("MapPixelBuffer"); err != nil {
		return nil, err
	}
	b, ok := g.buffers[buf]
	if !ok || g.mapped[buf] {
		return nil, errs.GL("glMapBuffer", InvalidOperation)
	}
	g.mapped[buf] = true
	return unsafe.Pointer(&b[0]), nil
}

func (g *Graphics) UnmapPixelBuffer(buf uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("UnmapPixelBuffer"); err != nil {
		return err
	}
	if !g.mapped[buf] {
		return errs.GL("glUnmapBuffer", InvalidOperation)
	}
	g.mapped[buf] = false
	return nil
}

func (g *Graphics) UploadTexture(tex, buf uint32, w, h int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("UploadTexture"); err != nil {
		return err
	}
	t, ok := g.textures[tex]
	b, bok := g.buffers[buf]
	n := w * h * gl.BytesPerPixel
	if !ok || !bok || g.mapped[buf] || n > len(t) || n > len(b) {
		return errs.GL(fmt.Sprintf("glTexSubImage2D(%d, %d)", tex, buf), InvalidOperation)
	}
	copy(t, b[:n])
	return nil
}

func (g *Graphics) Present(tex uint32, _, _ int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("Present"); err != nil {
		return err
	}
	if _, ok := g.textures[tex]; !ok {
		return errs.GL("glBlitFramebuffer", InvalidOperation)
	}
	return nil
}
