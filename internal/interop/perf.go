package interop

import (
	"fmt"
	"io"
	"time"
)

// DefaultPerfWindow is the number of frames averaged into one report.
const DefaultPerfWindow = 255

// PerfReport is the average cost of one frame over a window of frames.
type PerfReport struct {
	Mode   Mode      `json:"mode"`
	Frames int       `json:"frames"`
	Time   time.Time `json:"time"`

	AvgFrame  time.Duration `json:"avg_frame_ns"`
	AvgUpdate time.Duration `json:"avg_update_ns"`
	// AvgInterop is update time minus kernel time: the cost of the sharing strategy itself.
	AvgInterop time.Duration `json:"avg_interop_ns"`
	AvgKernel  time.Duration `json:"avg_kernel_ns"`
	AvgRender  time.Duration `json:"avg_render_ns"`
	FPS        float64       `json:"fps"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// WriteText prints the report in the console layout.
func (r PerfReport) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Average frame time %.3f ms\n", ms(r.AvgFrame))
	fmt.Fprintf(w, "   Average time for %s is %.3f ms\n", r.Mode.InteropStep(), ms(r.AvgInterop))
	fmt.Fprintf(w, "   Average kernel time is %.3f ms\n", ms(r.AvgKernel))
	fmt.Fprintf(w, "   Average render time is %.3f ms\n", ms(r.AvgRender))
}

// Title is the window title for the report.
func (r PerfReport) Title(tip bool) string {
	prefix := ""
	if tip {
		prefix = "<Press TAB to change mode>"
	}
	return fmt.Sprintf("%sInterop Mode: %s FPS: %.2f", prefix, r.Mode.Description(), r.FPS)
}

// Reporter receives every completed report.
type Reporter interface {
	Report(PerfReport)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(PerfReport)

func (f ReporterFunc) Report(r PerfReport) { f(r) }

// FrameTiming is the measured cost of one frame.
type FrameTiming struct {
	Update time.Duration
	Kernel time.Duration
	Render time.Duration
}

// Total is the whole frame time.
func (t FrameTiming) Total() time.Duration { return t.Update + t.Render }

// perfCounter accumulates frame timings until the window is full.
type perfCounter struct {
	window int
	frames int
	update time.Duration
	kernel time.Duration
	render time.Duration
	fpsSum float64
}

func newPerfCounter(window int) *perfCounter {
	if window <= 0 {
		window = DefaultPerfWindow
	}
	return &perfCounter{window: window}
}

// add records one frame. It returns a report and resets when the window is full.
func (c *perfCounter) add(mode Mode, t FrameTiming, now time.Time) (PerfReport, bool) {
	c.frames++
	c.update += t.Update
	c.kernel += t.Kernel
	c.render += t.Render
	if total := t.Total(); total > 0 {
		c.fpsSum += 1 / total.Seconds()
	}
	if c.frames < c.window {
		return PerfReport{}, false
	}

	n := time.Duration(c.frames)
	r := PerfReport{
		Mode:       mode,
		Frames:     c.frames,
		Time:       now,
		AvgUpdate:  c.update / n,
		AvgInterop: (c.update - c.kernel) / n,
		AvgKernel:  c.kernel / n,
		AvgRender:  c.render / n,
		FPS:        c.fpsSum / float64(c.frames),
	}
	if r.FPS > 0 {
		r.AvgFrame = time.Duration(float64(time.Second) / r.FPS)
	}
	c.reset()
	return r, true
}

func (c *perfCounter) reset() {
	c.frames = 0
	c.update, c.kernel, c.render = 0, 0, 0
	c.fpsSum = 0
}
