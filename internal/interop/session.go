// Package interop runs the per-frame handoff of a shared texture or buffer
// between OpenGL and OpenCL under three sharing strategies, switches between
// them at runtime and accounts for the cost of each.
package interop

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/gl"
)

// Kernel entry points of the fill program.
const (
	KernelImageFill  = "imagefill"
	KernelBufferFill = "bufferfill"
)

//go:embed kernels/fill.cl
var fillProgram string

// FillProgram returns the embedded default program.
func FillProgram() cl.Source {
	return cl.Source{Text: fillProgram}
}

// Config describes a session.
type Config struct {
	Runtime  *cl.Runtime
	Graphics gl.Graphics
	Width    int
	Height   int
	Mode     Mode
	// ImplicitSync skips glFinish/clFinish around acquire and release.
	ImplicitSync bool

	// Source overrides the embedded program. It must define imagefill and bufferfill.
	Source       cl.Source
	BuildOptions string

	// PerfWindow is the number of frames per report. Defaults to DefaultPerfWindow.
	PerfWindow int
	Reporters  []Reporter

	// Swap presents the back buffer after drawing. Optional.
	Swap func() error
	// SetTitle receives the window title after each report. Optional.
	SetTitle func(string)
	// OnWarning receives non-fatal conditions such as ZeroCopyDegradation.
	// Defaults to printing a warning line to Out.
	OnWarning func(error)

	// Out receives mode and perf reports. Defaults to stdout.
	Out   io.Writer
	Clock func() time.Time
}

// Status is a point-in-time view of a session, safe to read from any goroutine.
type Status struct {
	Mode             Mode        `json:"mode"`
	Width            int         `json:"width"`
	Height           int         `json:"height"`
	ImplicitSync     bool        `json:"implicit_sync"`
	Frames           uint64      `json:"frames"`
	ZeroCopyWarnings uint64      `json:"zero_copy_warnings"`
	LastReport       *PerfReport `json:"last_report,omitempty"`
}

// Session owns the GL texture, the mode specific pixel buffer, the shared
// resource and the fill kernels. Frame, SwitchMode, NextMode and Close must
// run on the thread that owns the GL context; RequestMode and Status may be
// called from anywhere.
type Session struct {
	cfg   Config
	rt    *cl.Runtime
	gfx   gl.Graphics
	out   io.Writer
	clock func() time.Time

	program      *cl.Program
	imageKernel  *cl.Kernel
	bufferKernel *cl.Kernel

	texture uint32
	pbo     uint32
	res     sharedResource
	mode    Mode
	tip     bool

	perf     *perfCounter
	requests chan Mode

	mu     sync.Mutex
	status Status
}

// ErrRequestQueueFull is returned by RequestMode when requests arrive faster
// than frames.
var ErrRequestQueueFull = errors.New("mode request queue is full")

// NewSession builds the fill program, allocates the texture and sets up the
// initial mode.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Runtime == nil || cfg.Graphics == nil {
		return nil, errs.Configuration("session", "runtime and graphics are required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errs.Configuration("session", "invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if !cfg.Mode.Valid() {
		return nil, errs.Configuration("session", "invalid mode %d", int(cfg.Mode))
	}
	src := cfg.Source
	if src.Path == "" && src.Text == "" {
		src = FillProgram()
	}

	s := &Session{
		cfg:      cfg,
		rt:       cfg.Runtime,
		gfx:      cfg.Graphics,
		out:      cfg.Out,
		clock:    cfg.Clock,
		tip:      true,
		perf:     newPerfCounter(cfg.PerfWindow),
		requests: make(chan Mode, 8),
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.status = Status{Width: cfg.Width, Height: cfg.Height, ImplicitSync: cfg.ImplicitSync}

	var err error
	s.program, err = cl.NewProgram(s.rt, src, cl.ProgramOptions{BuildOptions: cfg.BuildOptions, Diag: s.out})
	if err != nil {
		return nil, err
	}
	if s.imageKernel, err = s.program.Kernel(KernelImageFill); err != nil {
		s.Close()
		return nil, err
	}
	if s.bufferKernel, err = s.program.Kernel(KernelBufferFill); err != nil {
		s.Close()
		return nil, err
	}
	if s.texture, err = s.gfx.CreateTexture(cfg.Width, cfg.Height); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SwitchMode(cfg.Mode); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Mode returns the active mode.
func (s *Session) Mode() Mode { return s.mode }

// Texture returns the GL texture the session renders into.
func (s *Session) Texture() uint32 { return s.texture }

func (s *Session) frameBytes() int {
	return s.cfg.Width * s.cfg.Height * gl.BytesPerPixel
}

// SwitchMode tears down the current shared resource and pixel buffer and
// sets up mode m from scratch. Perf counters restart at zero.
func (s *Session) SwitchMode(m Mode) error {
	if !m.Valid() {
		return errs.Configuration("switch mode", "invalid mode %d", int(m))
	}

	// A failed release still drops the old resource; the switch goes on.
	var closeErr error
	if s.res != nil {
		closeErr = s.res.close()
		s.res = nil
	}
	if s.pbo != 0 {
		s.gfx.DeletePixelBuffer(s.pbo)
		s.pbo = 0
	}

	s.mode = m
	s.perf.reset()
	s.setStatus(func(st *Status) { st.Mode = m })

	if err := errors.Join(closeErr, s.setupMode(m)); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "\nMode:%s\n", m.Description())
	slog.Info("Interop mode switched", "mode", m.String())
	return nil
}

func (s *Session) setupMode(m Mode) error {
	if m.buffered() {
		pbo, err := s.gfx.CreatePixelBuffer(s.frameBytes())
		if err != nil {
			return err
		}
		s.pbo = pbo
	}
	res, err := s.newResource(m)
	if err != nil {
		return err
	}
	s.res = res
	return nil
}

func (s *Session) newResource(m Mode) (sharedResource, error) {
	switch m {
	case ModeTexture:
		return newTextureResource(s.rt, s.texture)
	case ModeBufferPBO:
		return newStagedBufferResource(s.rt, s.pbo)
	default:
		return newMappedBufferResource(s.rt, s.gfx, s.pbo, s.frameBytes(), s.warn), nil
	}
}

// NextMode switches to the next mode in cycling order.
func (s *Session) NextMode() error {
	s.tip = false
	return s.SwitchMode(s.mode.Next())
}

// RequestMode queues a switch to be applied at the next frame boundary.
func (s *Session) RequestMode(m Mode) error {
	if !m.Valid() {
		return errs.Configuration("request mode", "invalid mode %d", int(m))
	}
	select {
	case s.requests <- m:
		return nil
	default:
		return ErrRequestQueueFull
	}
}

// applyRequests drains queued requests; only the latest one takes effect.
func (s *Session) applyRequests() error {
	var (
		next    Mode
		pending bool
	)
drain:
	for {
		select {
		case m := <-s.requests:
			next, pending = m, true
		default:
			break drain
		}
	}
	if !pending || (next == s.mode && s.res != nil) {
		return nil
	}
	s.tip = false
	return s.SwitchMode(next)
}

func (s *Session) warn(err error) {
	s.setStatus(func(st *Status) { st.ZeroCopyWarnings++ })
	if s.cfg.OnWarning != nil {
		s.cfg.OnWarning(err)
		return
	}
	fmt.Fprintf(s.out, "[ WARNING ] %v.\n", err)
}

// Frame runs one acquire, dispatch, release and present cycle.
func (s *Session) Frame() error {
	if err := s.applyRequests(); err != nil {
		return err
	}
	if s.res == nil {
		return errs.Configuration("frame", "mode %s has no shared resource", s.mode)
	}

	start := s.clock()
	kernel, err := s.update()
	if err != nil {
		return err
	}
	phase := s.clock()

	if err := s.gfx.Present(s.texture, s.cfg.Width, s.cfg.Height); err != nil {
		return err
	}
	if s.cfg.Swap != nil {
		if err := s.cfg.Swap(); err != nil {
			return err
		}
	}
	end := s.clock()

	s.setStatus(func(st *Status) { st.Frames++ })
	timing := FrameTiming{Update: phase.Sub(start), Kernel: kernel, Render: end.Sub(phase)}
	if report, ok := s.perf.add(s.mode, timing, end); ok {
		s.publish(report)
	}
	return nil
}

// update transfers the shared object to OpenCL, fills it and hands it back.
func (s *Session) update() (time.Duration, error) {
	if !s.cfg.ImplicitSync {
		if err := s.gfx.Finish(); err != nil {
			return 0, err
		}
	}

	kernel, err := s.compute()
	if err != nil {
		return 0, err
	}

	if !s.cfg.ImplicitSync {
		if err := s.rt.Driver().Finish(s.rt.Queue()); err != nil {
			return 0, err
		}
	}
	if s.mode.buffered() {
		if err := s.gfx.UploadTexture(s.texture, s.pbo, s.cfg.Width, s.cfg.Height); err != nil {
			return 0, err
		}
	}
	return kernel, nil
}

func (s *Session) compute() (kernel time.Duration, err error) {
	own, err := acquireOwnership(s.res)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := own.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return s.dispatch(own.mem)
}

// dispatch fills mem for the current frame and waits for completion.
func (s *Session) dispatch(mem cl.MemID) (time.Duration, error) {
	start := s.clock()
	iter := s.perf.frames
	w, h := s.cfg.Width, s.cfg.Height

	var (
		k      *cl.Kernel
		global []int
		err    error
	)
	if s.mode == ModeTexture {
		pattern := [4]float32{float32(iter) / float32(s.perf.window), 0, 0, 1}
		k, global = s.imageKernel, []int{w, h}
		err = k.SetArgs(pattern, mem, int32(w), int32(h))
	} else {
		var pattern [4]uint8
		pattern[3] = 255
		if s.mode == ModeBufferPBO {
			pattern[1] = uint8(iter)
		} else {
			pattern[2] = uint8(iter)
		}
		k, global = s.bufferKernel, []int{w * h}
		err = k.SetArgs(pattern, mem, int32(w), int32(h))
	}
	if err != nil {
		return 0, err
	}

	d, q := s.rt.Driver(), s.rt.Queue()
	ev, err := d.EnqueueNDRangeKernel(q, k.ID, nil, global, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := d.ReleaseEvent(ev); rerr != nil {
			slog.Warn("Failed to release kernel event", "error", rerr)
		}
	}()
	if err := d.Finish(q); err != nil {
		return 0, err
	}
	return s.clock().Sub(start), nil
}

func (s *Session) publish(r PerfReport) {
	r.WriteText(s.out)
	if s.cfg.SetTitle != nil {
		s.cfg.SetTitle(r.Title(s.tip))
	}
	s.setStatus(func(st *Status) {
		last := r
		st.LastReport = &last
	})
	slog.Debug("Perf window complete",
		"mode", r.Mode.String(),
		"fps", r.FPS,
		"avg_kernel_ms", ms(r.AvgKernel),
		"avg_interop_ms", ms(r.AvgInterop),
	)
	for _, rep := range s.cfg.Reporters {
		rep.Report(r)
	}
}

func (s *Session) setStatus(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Status returns a copy of the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.LastReport != nil {
		last := *st.LastReport
		st.LastReport = &last
	}
	return st
}

// Close releases the shared resource, the pixel buffer, the texture and the
// program. The runtime belongs to the caller.
func (s *Session) Close() error {
	var errList []error
	if s.res != nil {
		if err := s.res.close(); err != nil {
			errList = append(errList, err)
		}
		s.res = nil
	}
	if s.pbo != 0 {
		s.gfx.DeletePixelBuffer(s.pbo)
		s.pbo = 0
	}
	if s.texture != 0 {
		s.gfx.DeleteTexture(s.texture)
		s.texture = 0
	}
	if s.program != nil {
		if err := s.program.Close(); err != nil {
			errList = append(errList, err)
		}
		s.program = nil
	}
	return errors.Join(errList...)
}
