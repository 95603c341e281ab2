package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cwbudde/clglinterop/internal/cl"
)

// KernelMandelbrot is the entry point of the embedded program.
const KernelMandelbrot = "mandelbrot"

//go:embed kernels/mandelbrot.cl
var mandelbrotProgram string

// Partitioned renders on every device of a runtime, one band of rows per
// command queue.
type Partitioned struct {
	rt     *cl.Runtime
	kernel *cl.SingleKernelProgram
}

// NewPartitioned builds the mandelbrot program for all devices of rt.
func NewPartitioned(rt *cl.Runtime, opts cl.ProgramOptions) (*Partitioned, error) {
	k, err := cl.NewSingleKernelProgram(rt, cl.Source{Text: mandelbrotProgram}, KernelMandelbrot, opts)
	if err != nil {
		return nil, err
	}
	return &Partitioned{rt: rt, kernel: k}, nil
}

type bandJob struct {
	band  Band
	queue cl.QueueID
	mem   cl.MemID
	event cl.EventID
}

// Render enqueues every band without waiting, waits on all kernels at once,
// then reads each band back into its rows of the image.
func (r *Partitioned) Render(ctx context.Context, p Params) (img *image.Gray, err error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := r.rt.Driver()
	bands := Partition(p.Height, len(r.rt.Queues))
	start := time.Now()

	jobs := make([]*bandJob, 0, len(bands))
	defer func() {
		var errList []error
		for _, j := range jobs {
			if j.event != 0 {
				errList = append(errList, d.ReleaseEvent(j.event))
			}
			if j.mem != 0 {
				errList = append(errList, d.ReleaseMemObject(j.mem))
			}
		}
		if rerr := errors.Join(errList...); rerr != nil {
			err = errors.Join(err, rerr)
			img = nil
		}
	}()

	for i, band := range bands {
		if band.Rows == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j := &bandJob{band: band, queue: r.rt.Queues[i]}
		jobs = append(jobs, j)

		j.mem, err = d.CreateBuffer(r.rt.Context, cl.MemWriteOnly, p.Width*band.Rows, nil)
		if err != nil {
			return nil, err
		}
		if err := r.kernel.Kernel.SetArgs(j.mem, int32(p.Width), int32(p.Height), p.Bound, int32(p.Bailout)); err != nil {
			return nil, err
		}
		j.event, err = d.EnqueueNDRangeKernel(j.queue, r.kernel.Kernel.ID, []int{0, band.Offset}, []int{p.Width, band.Rows}, nil)
		if err != nil {
			return nil, err
		}
		slog.Debug("Band enqueued", "device", r.rt.Devices[i].Name, "offset", band.Offset, "rows", band.Rows)
	}

	events := make([]cl.EventID, len(jobs))
	for i, j := range jobs {
		events[i] = j.event
	}
	if err := d.WaitForEvents(events); err != nil {
		return nil, err
	}

	img = image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for _, j := range jobs {
		dst := img.Pix[j.band.Offset*img.Stride : (j.band.Offset+j.band.Rows)*img.Stride]
		if err := d.ReadBuffer(j.queue, j.mem, 0, dst); err != nil {
			return nil, fmt.Errorf("read band at row %d: %w", j.band.Offset, err)
		}
	}

	slog.Info("Partitioned render complete",
		"devices", len(jobs),
		"size", humanize.Bytes(uint64(len(img.Pix))),
		"elapsed", time.Since(start),
	)
	return img, nil
}

// Close releases the program.
func (r *Partitioned) Close() error {
	return r.kernel.Close()
}
