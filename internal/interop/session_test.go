package interop

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/cl/cltest"
	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/gl/gltest"
)

type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) hook(prefix string) func(string) {
	return func(call string) {
		j.mu.Lock()
		j.calls = append(j.calls, prefix+call)
		j.mu.Unlock()
	}
}

func (j *journal) reset() {
	j.mu.Lock()
	j.calls = nil
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fixture struct {
	driver   *cltest.Driver
	gfx      *gltest.Graphics
	rt       *cl.Runtime
	journal  *journal
	out      *bytes.Buffer
	warnings []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		driver:  cltest.New(cltest.Platform{Name: "P", Devices: []cltest.Device{cltest.GPU("G")}}),
		gfx:     gltest.New(),
		journal: &journal{},
		out:     &bytes.Buffer{},
	}
	f.driver.Record = f.journal.hook("cl:")
	f.gfx.Record = f.journal.hook("gl:")

	sel := &cl.Selector{Driver: f.driver}
	choice, err := sel.SelectInteropDevice("0", "gpu", "")
	require.NoError(t, err)
	f.rt, err = cl.NewRuntime(f.driver, cl.RuntimeConfig{
		Platform: choice.Platform,
		Devices:  []cl.Device{choice.Device},
		Handles:  &cl.NativeHandles{GLContext: 1, Display: 2},
	})
	require.NoError(t, err)
	t.Cleanup(f.rt.Close)
	return f
}

func (f *fixture) config(mode Mode) Config {
	return Config{
		Runtime:    f.rt,
		Graphics:   f.gfx,
		Width:      4,
		Height:     4,
		Mode:       mode,
		PerfWindow: 4,
		Out:        f.out,
		OnWarning:  func(err error) { f.warnings = append(f.warnings, err) },
	}
}

func (f *fixture) session(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f.journal.reset()
	return s
}

var dispatchCalls = []string{
	"cl:SetKernelArg", "cl:SetKernelArg", "cl:SetKernelArg", "cl:SetKernelArg",
	"cl:EnqueueNDRangeKernel", "cl:Finish", "cl:ReleaseEvent",
}

func seq(parts ...any) []string {
	var out []string
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		}
	}
	return out
}

func TestNewSessionResolvesBothKernels(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))

	require.Equal(t, ModeTexture, s.Mode())
	require.Equal(t, 2, f.driver.Live("kernel"))
	require.Equal(t, 1, f.driver.Live("mem"))
	require.Equal(t, 1, f.gfx.LiveTextures())
	require.Zero(t, f.gfx.LiveBuffers())
	require.Contains(t, f.out.String(), "Mode:Image-based (zero-copy)")
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(ModeTexture)
	cfg.Width = 0
	_, err := NewSession(cfg)
	var cerr *errs.ConfigurationError
	require.ErrorAs(t, err, &cerr)

	cfg = f.config(Mode(7))
	_, err = NewSession(cfg)
	require.ErrorAs(t, err, &cerr)
}

func TestNewSessionBuildFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.BuildFailure = true
	cfg := f.config(ModeTexture)
	cfg.Source = cl.Source{Text: "kernel code"}

	_, err := NewSession(cfg)
	var berr *errs.BuildError
	require.ErrorAs(t, err, &berr)
	require.Zero(t, f.driver.Live("program"))
}

func TestFrameTexture(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))

	require.NoError(t, s.Frame())
	require.Equal(t, seq(
		"gl:Finish",
		"cl:EnqueueAcquireGLObjects",
		dispatchCalls,
		"cl:EnqueueReleaseGLObjects",
		"cl:Finish",
		"gl:Present",
	), f.journal.list())

	disp := f.driver.Dispatches[0]
	require.Equal(t, KernelImageFill, disp.Kernel)
	require.Equal(t, []int{4, 4}, disp.Global)
	require.Equal(t, [4]float32{0, 0, 0, 1}, disp.Args[0])
	require.Equal(t, int32(4), disp.Args[2])
	require.Zero(t, f.driver.Live("event"))
}

func TestFrameImplicitSyncSkipsFlushes(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(ModeTexture)
	cfg.ImplicitSync = true
	s := f.session(t, cfg)

	require.NoError(t, s.Frame())
	require.Equal(t, seq(
		"cl:EnqueueAcquireGLObjects",
		dispatchCalls,
		"cl:EnqueueReleaseGLObjects",
		"gl:Present",
	), f.journal.list())
}

func TestFrameBufferPBO(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeBufferPBO))

	require.NoError(t, s.Frame())
	require.NoError(t, s.Frame())
	calls := f.journal.list()
	require.Equal(t, seq(
		"gl:Finish",
		"cl:EnqueueAcquireGLObjects",
		dispatchCalls,
		"cl:EnqueueReleaseGLObjects",
		"cl:Finish",
		"gl:UploadTexture",
		"gl:Present",
	), calls[:len(calls)/2])

	disp := f.driver.Dispatches[1]
	require.Equal(t, KernelBufferFill, disp.Kernel)
	require.Equal(t, []int{16}, disp.Global)
	require.Equal(t, [4]uint8{0, 1, 0, 255}, disp.Args[0])
}

func fillPattern(d *cltest.Driver, disp cltest.Dispatch) {
	if disp.Kernel != KernelBufferFill {
		return
	}
	pattern := disp.Args[0].([4]uint8)
	buf := d.Buffer(disp.Args[1].(cl.MemID))
	for i := 0; i+4 <= len(buf); i += 4 {
		copy(buf[i:i+4], pattern[:])
	}
}

func TestFrameBufferMap(t *testing.T) {
	f := newFixture(t)
	f.driver.OnDispatch = fillPattern
	s := f.session(t, f.config(ModeBufferMap))
	memBefore := f.driver.Live("mem")

	require.NoError(t, s.Frame())
	require.Equal(t, seq(
		"gl:Finish",
		"gl:MapPixelBuffer",
		"cl:CreateBuffer",
		dispatchCalls,
		"cl:EnqueueMapBuffer",
		"cl:EnqueueUnmapMemObject",
		"cl:ReleaseMemObject",
		"gl:UnmapPixelBuffer",
		"cl:Finish",
		"gl:UploadTexture",
		"gl:Present",
	), f.journal.list())
	require.Equal(t, memBefore, f.driver.Live("mem"))
	require.Empty(t, f.warnings)

	require.NoError(t, s.Frame())
	tex := f.gfx.Texture(s.Texture())
	for i := 0; i < len(tex); i += 4 {
		require.Equal(t, []byte{0, 0, 1, 255}, tex[i:i+4], "texel %d", i/4)
	}
}

func TestFrameBufferMapMisalignedWarnsOncePerFrame(t *testing.T) {
	f := newFixture(t)
	f.gfx.Misalign = 16
	s := f.session(t, f.config(ModeBufferMap))

	require.NoError(t, s.Frame())
	require.Len(t, f.warnings, 1)
	var zc *errs.ZeroCopyDegradation
	require.ErrorAs(t, f.warnings[0], &zc)
	require.Equal(t, 64, zc.Size)

	require.NoError(t, s.Frame())
	require.NoError(t, s.Frame())
	require.Len(t, f.warnings, 3)
	require.Equal(t, uint64(3), s.Status().ZeroCopyWarnings)
}

func TestFrameBufferMapDefaultWarningPrints(t *testing.T) {
	f := newFixture(t)
	f.gfx.Misalign = 16
	cfg := f.config(ModeBufferMap)
	cfg.OnWarning = nil
	s := f.session(t, cfg)

	require.NoError(t, s.Frame())
	require.Equal(t, 1, strings.Count(f.out.String(), "[ WARNING ]"))
}

func TestGuardReleasesWhenDispatchFails(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))
	f.driver.FailOn("EnqueueNDRangeKernel", errs.CLInvalidValue)

	err := s.Frame()
	require.True(t, errs.IsCLCode(err, errs.CLInvalidValue))
	calls := f.journal.list()
	require.Equal(t, "cl:EnqueueReleaseGLObjects", calls[len(calls)-1])
	require.NotContains(t, calls, "gl:Present")
}

func TestGuardUnmapsWhenMapDispatchFails(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeBufferMap))
	memBefore := f.driver.Live("mem")
	f.driver.FailOn("SetKernelArg", errs.CLInvalidArgValue)

	err := s.Frame()
	require.Error(t, err)
	require.False(t, f.gfx.Mapped(s.pbo))
	require.Equal(t, memBefore, f.driver.Live("mem"))
}

func TestReleaseFailureIsReported(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))
	f.driver.FailOn("EnqueueReleaseGLObjects", errs.CLInvalidGLObject)

	err := s.Frame()
	require.True(t, errs.IsCLCode(err, errs.CLInvalidGLObject))
}

func TestSwitchModeOrderAndCounters(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeBufferPBO))

	require.NoError(t, s.Frame())
	require.NoError(t, s.Frame())
	require.Equal(t, 2, s.perf.frames)
	f.journal.reset()

	require.NoError(t, s.SwitchMode(ModeBufferMap))
	require.Equal(t, []string{"cl:ReleaseMemObject", "gl:DeletePixelBuffer", "gl:CreatePixelBuffer"}, f.journal.list())
	require.Zero(t, s.perf.frames)
	require.Zero(t, s.perf.update)
	require.Zero(t, s.perf.kernel)
	require.Zero(t, s.perf.render)

	f.journal.reset()
	require.NoError(t, s.SwitchMode(ModeTexture))
	require.Equal(t, []string{"gl:DeletePixelBuffer", "cl:CreateFromGLTexture"}, f.journal.list())

	f.journal.reset()
	require.NoError(t, s.SwitchMode(ModeBufferPBO))
	require.Equal(t, []string{"cl:ReleaseMemObject", "gl:CreatePixelBuffer", "cl:CreateFromGLBuffer"}, f.journal.list())
}

func TestSwitchModeReleaseFailureStillSwitches(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeBufferPBO))
	require.NoError(t, s.Frame())
	require.Equal(t, 1, f.gfx.LiveBuffers())

	f.driver.FailOn("ReleaseMemObject", errs.CLInvalidMemObject)
	err := s.SwitchMode(ModeTexture)
	require.True(t, errs.IsCLCode(err, errs.CLInvalidMemObject))
	require.Zero(t, f.gfx.LiveBuffers())
	require.Equal(t, ModeTexture, s.Mode())
	require.NotNil(t, s.res)
	require.Zero(t, s.perf.frames)
}

func TestNextModeCycles(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))

	for _, want := range []Mode{ModeBufferPBO, ModeBufferMap, ModeTexture} {
		require.NoError(t, s.NextMode())
		require.Equal(t, want, s.Mode())
		require.NoError(t, s.Frame())
	}
	require.Equal(t, 1, f.driver.Live("mem"))
	require.Zero(t, f.gfx.LiveBuffers())
}

func TestRequestModeAppliedAtFrameBoundary(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))

	require.NoError(t, s.RequestMode(ModeBufferPBO))
	require.NoError(t, s.RequestMode(ModeBufferMap))
	require.Equal(t, ModeTexture, s.Mode())

	require.NoError(t, s.Frame())
	require.Equal(t, ModeBufferMap, s.Mode())
	require.Equal(t, ModeBufferMap, s.Status().Mode)
	require.Len(t, f.driver.CallsMatching("CreateFromGLBuffer"), 0)
}

func TestRequestModeQueueFull(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, f.config(ModeTexture))

	var err error
	for i := 0; i < 20 && err == nil; i++ {
		err = s.RequestMode(ModeBufferPBO)
	}
	require.True(t, errors.Is(err, ErrRequestQueueFull))
	require.Error(t, s.RequestMode(Mode(-1)))
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestPerfReportEveryWindow(t *testing.T) {
	f := newFixture(t)
	clock := &stepClock{now: time.Unix(0, 0), step: time.Millisecond}
	var reports []PerfReport
	var title string

	cfg := f.config(ModeTexture)
	cfg.PerfWindow = 3
	cfg.Clock = clock.Now
	cfg.Reporters = []Reporter{ReporterFunc(func(r PerfReport) { reports = append(reports, r) })}
	cfg.SetTitle = func(s string) { title = s }
	s := f.session(t, cfg)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Frame())
	}
	require.Empty(t, reports)
	require.NoError(t, s.Frame())
	require.Len(t, reports, 1)

	r := reports[0]
	require.Equal(t, ModeTexture, r.Mode)
	require.Equal(t, 3, r.Frames)
	require.Equal(t, time.Millisecond, r.AvgKernel)
	require.Equal(t, 3*time.Millisecond, r.AvgUpdate)
	require.Equal(t, 2*time.Millisecond, r.AvgInterop)
	require.Equal(t, time.Millisecond, r.AvgRender)
	require.InDelta(t, 250.0, r.FPS, 1e-6)
	require.InDelta(t, float64(4*time.Millisecond), float64(r.AvgFrame), 10)

	require.Contains(t, f.out.String(), "   Average kernel time is 1.000 ms\n")
	require.Contains(t, f.out.String(), "   Average time for GL texture acquire/release in OpenCL is 2.000 ms\n")
	require.Equal(t, "<Press TAB to change mode>Interop Mode: Image-based (zero-copy) FPS: 250.00", title)
	require.NotNil(t, s.Status().LastReport)
	require.Equal(t, uint64(3), s.Status().Frames)
	require.Zero(t, s.perf.frames)
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	s, err := NewSession(f.config(ModeBufferPBO))
	require.NoError(t, err)
	require.NoError(t, s.Frame())

	require.NoError(t, s.Close())
	require.Zero(t, f.gfx.LiveBuffers())
	require.Zero(t, f.gfx.LiveTextures())
	f.rt.Close()
	require.Empty(t, f.driver.Leaks())
}
