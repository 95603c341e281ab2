package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/cl/cltest"
	"github.com/cwbudde/clglinterop/internal/errs"
)

func TestPartitionCoversEveryRowOnce(t *testing.T) {
	tests := []struct {
		height, n int
	}{
		{2500, 1}, {2500, 2}, {2500, 3}, {10, 3}, {10, 4}, {7, 7}, {2, 3}, {1, 5},
	}
	for _, tt := range tests {
		bands := Partition(tt.height, tt.n)
		require.Len(t, bands, tt.n)

		seen := make([]int, tt.height)
		for _, b := range bands {
			require.GreaterOrEqual(t, b.Rows, 0)
			for y := b.Offset; y < b.Offset+b.Rows; y++ {
				seen[y]++
			}
		}
		for y, c := range seen {
			require.Equal(t, 1, c, "height=%d n=%d row=%d", tt.height, tt.n, y)
		}
	}
}

func TestPartitionBatchSize(t *testing.T) {
	// 10 rows on 3 devices: 10/3 = 3, widened by 10%3 = 1.
	require.Equal(t, []Band{{0, 4}, {4, 4}, {8, 2}}, Partition(10, 3))
	require.Equal(t, []Band{{0, 5}, {5, 5}}, Partition(10, 2))
	require.Nil(t, Partition(0, 3))
	require.Nil(t, Partition(10, 0))
}

func TestEscape(t *testing.T) {
	p := Params{Width: 14, Height: 10, Bound: 2, Bailout: 200}
	// (9, 5) maps to c = -0.25, inside the set.
	require.Equal(t, uint8(255), Escape(9, 5, p))
	// (0, 0) maps to c = -2.5-1.25i, which escapes after one step.
	require.Equal(t, uint8(255*1/200), Escape(0, 0, p))
}

func TestCPURenderer(t *testing.T) {
	p := Params{Width: 14, Height: 10, Bound: 2, Bailout: 200}
	img, err := NewCPURenderer(3).Render(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 14, img.Bounds().Dx())
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			require.Equal(t, Escape(x, y, p), img.GrayAt(x, y).Y)
		}
	}
}

func TestCPURendererCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCPURenderer(2).Render(ctx, DefaultParams())
	require.ErrorIs(t, err, context.Canceled)
}

func TestParamsValidate(t *testing.T) {
	var cerr *errs.ConfigurationError
	require.ErrorAs(t, Params{Width: 0, Height: 1, Bound: 2, Bailout: 1}.Validate(), &cerr)
	require.ErrorAs(t, Params{Width: 1, Height: 1, Bound: 0, Bailout: 1}.Validate(), &cerr)
	require.ErrorAs(t, Params{Width: 1, Height: 1, Bound: 2}.Validate(), &cerr)
	require.NoError(t, DefaultParams().Validate())
}

func newComputeRuntime(t *testing.T, devices int) (*cltest.Driver, *cl.Runtime) {
	t.Helper()
	devs := make([]cltest.Device, devices)
	for i := range devs {
		devs[i] = cltest.GPU(string(rune('A' + i)))
	}
	d := cltest.New(cltest.Platform{Name: "P", Devices: devs})
	sel := &cl.Selector{Driver: d}
	p, err := sel.SelectPlatform("0")
	require.NoError(t, err)
	list, err := sel.Devices(p, cl.DeviceTypeGPU)
	require.NoError(t, err)
	rt, err := cl.NewRuntime(d, cl.RuntimeConfig{Platform: p, Devices: list, Properties: cl.QueueProfiling})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return d, rt
}

// markBands fills each band buffer with 1 + the index of its queue.
func markBands(rt *cl.Runtime) func(*cltest.Driver, cltest.Dispatch) {
	return func(d *cltest.Driver, disp cltest.Dispatch) {
		mark := byte(0)
		for i, q := range rt.Queues {
			if q == disp.Queue {
				mark = byte(i + 1)
			}
		}
		buf := d.Buffer(disp.Args[0].(cl.MemID))
		for i := range buf {
			buf[i] = mark
		}
	}
}

func TestPartitionedRender(t *testing.T) {
	d, rt := newComputeRuntime(t, 3)
	d.OnDispatch = markBands(rt)

	r, err := NewPartitioned(rt, cl.ProgramOptions{})
	require.NoError(t, err)
	defer r.Close()
	d.ResetCalls()

	p := Params{Width: 5, Height: 10, Bound: 2, Bailout: 50}
	img, err := r.Render(context.Background(), p)
	require.NoError(t, err)

	bands := Partition(p.Height, 3)
	for i, b := range bands {
		for y := b.Offset; y < b.Offset+b.Rows; y++ {
			for x := 0; x < p.Width; x++ {
				require.Equal(t, uint8(i+1), img.GrayAt(x, y).Y, "x=%d y=%d", x, y)
			}
		}
	}

	require.Len(t, d.Dispatches, 3)
	for i, disp := range d.Dispatches {
		require.Equal(t, KernelMandelbrot, disp.Kernel)
		require.Equal(t, []int{0, bands[i].Offset}, disp.Offset)
		require.Equal(t, []int{p.Width, bands[i].Rows}, disp.Global)
		require.Equal(t, int32(p.Height), disp.Args[2])
		require.Equal(t, float32(2), disp.Args[3])
	}

	// Every kernel is enqueued before the single joint wait, and every read follows it.
	calls := d.Calls()
	wait := -1
	for i, c := range calls {
		switch c {
		case "WaitForEvents":
			require.Equal(t, -1, wait, "more than one wait")
			wait = i
		case "EnqueueNDRangeKernel":
			require.Equal(t, -1, wait, "kernel enqueued after wait")
		case "ReadBuffer":
			require.NotEqual(t, -1, wait, "read before wait")
		}
	}
	require.Zero(t, d.Live("event"))
	require.Zero(t, d.Live("mem"))
}

func TestPartitionedSkipsEmptyBands(t *testing.T) {
	d, rt := newComputeRuntime(t, 3)
	r, err := NewPartitioned(rt, cl.ProgramOptions{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Render(context.Background(), Params{Width: 4, Height: 2, Bound: 2, Bailout: 10})
	require.NoError(t, err)
	require.Len(t, d.Dispatches, 1)
}

func TestPartitionedReleasesOnReadFailure(t *testing.T) {
	d, rt := newComputeRuntime(t, 2)
	r, err := NewPartitioned(rt, cl.ProgramOptions{})
	require.NoError(t, err)
	defer r.Close()
	d.FailOn("ReadBuffer", errs.CLInvalidValue)

	_, err = r.Render(context.Background(), Params{Width: 4, Height: 4, Bound: 2, Bailout: 10})
	require.True(t, errs.IsCLCode(err, errs.CLInvalidValue))
	require.Zero(t, d.Live("mem"))
	require.Zero(t, d.Live("event"))
}

func TestNewRenderer(t *testing.T) {
	r, cleanup, err := NewRenderer("CPU", nil, cl.ProgramOptions{})
	require.NoError(t, err)
	require.IsType(t, &CPURenderer{}, r)
	require.NoError(t, cleanup())

	_, _, err = NewRenderer("opencl", nil, cl.ProgramOptions{})
	var cerr *errs.ConfigurationError
	require.ErrorAs(t, err, &cerr)

	_, _, err = NewRenderer("vulkan", nil, cl.ProgramOptions{})
	require.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestEncode(t *testing.T) {
	img, err := NewCPURenderer(1).Render(context.Background(), Params{Width: 8, Height: 6, Bound: 2, Bailout: 20})
	require.NoError(t, err)

	for _, path := range []string{"out.png", "OUT.BMP"} {
		f, err := FormatFromPath(path)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, img, f))
		switch f {
		case FormatPNG:
			back, err := png.Decode(&buf)
			require.NoError(t, err)
			require.Equal(t, img.Bounds(), back.Bounds())
		case FormatBMP:
			back, err := bmp.Decode(&buf)
			require.NoError(t, err)
			require.Equal(t, img.Bounds(), back.Bounds())
		}
	}

	_, err = FormatFromPath("out.jpg")
	require.Error(t, err)
}
