package interop

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestPerfCounterWindow(t *testing.T) {
	c := newPerfCounter(2)
	frame := FrameTiming{Update: 6 * time.Millisecond, Kernel: 2 * time.Millisecond, Render: 4 * time.Millisecond}

	if _, ok := c.add(ModeBufferPBO, frame, time.Time{}); ok {
		t.Fatal("report before the window is full")
	}
	r, ok := c.add(ModeBufferPBO, frame, time.Time{})
	if !ok {
		t.Fatal("expected a report after two frames")
	}
	if r.Frames != 2 || r.Mode != ModeBufferPBO {
		t.Errorf("unexpected report header: %+v", r)
	}
	if r.AvgInterop != 4*time.Millisecond {
		t.Errorf("AvgInterop = %v, want 4ms", r.AvgInterop)
	}
	if r.AvgKernel != 2*time.Millisecond || r.AvgRender != 4*time.Millisecond {
		t.Errorf("unexpected averages: %+v", r)
	}
	if c.frames != 0 || c.fpsSum != 0 {
		t.Errorf("counter not reset: %+v", c)
	}
}

func TestPerfCounterDefaultWindow(t *testing.T) {
	if c := newPerfCounter(0); c.window != DefaultPerfWindow {
		t.Errorf("window = %d, want %d", c.window, DefaultPerfWindow)
	}
}

func TestPerfCounterIgnoresZeroFrameTime(t *testing.T) {
	c := newPerfCounter(1)
	r, ok := c.add(ModeTexture, FrameTiming{}, time.Time{})
	if !ok {
		t.Fatal("expected report")
	}
	if r.FPS != 0 || r.AvgFrame != 0 {
		t.Errorf("zero timings should not produce fps: %+v", r)
	}
}

func TestPerfReportWriteText(t *testing.T) {
	r := PerfReport{
		Mode:       ModeBufferMap,
		AvgFrame:   2500 * time.Microsecond,
		AvgInterop: 500 * time.Microsecond,
		AvgKernel:  time.Millisecond,
		AvgRender:  250 * time.Microsecond,
	}
	var buf bytes.Buffer
	r.WriteText(&buf)

	want := "Average frame time 2.500 ms\n" +
		"   Average time for glMap/Unmap+clCreateBuffer+clEnqueueMap/Unmap is 0.500 ms\n" +
		"   Average kernel time is 1.000 ms\n" +
		"   Average render time is 0.250 ms\n"
	if buf.String() != want {
		t.Errorf("WriteText =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestPerfReportTitle(t *testing.T) {
	r := PerfReport{Mode: ModeBufferPBO, FPS: 59.994}
	if got := r.Title(false); got != "Interop Mode: PBO sharing with copy FPS: 59.99" {
		t.Errorf("Title = %q", got)
	}
}

func TestPerfReportJSON(t *testing.T) {
	data, err := json.Marshal(PerfReport{Mode: ModeBufferMap, Frames: 255, FPS: 60})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["mode"] != "map" {
		t.Errorf("mode = %v, want map", got["mode"])
	}
}
