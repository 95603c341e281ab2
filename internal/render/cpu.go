package render

import (
	"context"
	"image"
	"runtime"
	"sync"
)

// CPURenderer renders on goroutines, one band of rows per worker.
type CPURenderer struct {
	workers int
}

// NewCPURenderer returns a renderer using workers goroutines, or GOMAXPROCS when workers <= 0.
func NewCPURenderer(workers int) *CPURenderer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &CPURenderer{workers: workers}
}

func (r *CPURenderer) Render(ctx context.Context, p Params) (*image.Gray, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))

	var wg sync.WaitGroup
	for _, band := range Partition(p.Height, r.workers) {
		if band.Rows == 0 {
			continue
		}
		wg.Add(1)
		go func(b Band) {
			defer wg.Done()
			for y := b.Offset; y < b.Offset+b.Rows; y++ {
				if ctx.Err() != nil {
					return
				}
				row := img.Pix[y*img.Stride : y*img.Stride+p.Width]
				for x := range row {
					row[x] = Escape(x, y, p)
				}
			}
		}(band)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

// Escape returns the brightness of pixel (x, y): the escape iteration scaled
// to 0..255. It mirrors the mandelbrot kernel, float32 arithmetic included.
func Escape(x, y int, p Params) uint8 {
	cr := -2.5 + 3.5*float32(x)/float32(p.Width)
	ci := -1.25 + 2.5*float32(y)/float32(p.Height)
	limit := p.Bound * p.Bound

	var zr, zi float32
	i := 0
	for ; i < p.Bailout && zr*zr+zi*zi <= limit; i++ {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
	}
	return uint8(255 * i / p.Bailout)
}
