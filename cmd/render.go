package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/render"
)

type renderOptions struct {
	backend      string
	platform     string
	deviceType   string
	out          string
	width        int
	height       int
	bound        float32
	bailout      int
	buildOptions string
}

var renderOpts renderOptions

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the Mandelbrot set across every device of a platform",
	Long: `Splits the image rows across one command queue per device, waits for all
kernels together and writes the result as PNG or BMP (by --out extension).
The cpu backend renders the same image without OpenCL.`,
	RunE: runRender,
}

func init() {
	def := render.DefaultParams()
	f := renderCmd.Flags()
	f.StringVar(&renderOpts.backend, "backend", string(render.BackendOpenCL), "Backend: opencl or cpu")
	f.StringVar(&renderOpts.platform, "platform", "0", "Platform index or name substring")
	f.StringVar(&renderOpts.deviceType, "type", "all", "Device type filter; every matching device gets a band")
	f.StringVar(&renderOpts.out, "out", "mandelbrot.png", "Output path (.png or .bmp)")
	f.IntVar(&renderOpts.width, "width", def.Width, "Image width")
	f.IntVar(&renderOpts.height, "height", def.Height, "Image height")
	f.Float32Var(&renderOpts.bound, "bound", def.Bound, "Escape radius")
	f.IntVar(&renderOpts.bailout, "bailout", def.Bailout, "Maximum iterations")
	f.StringVar(&renderOpts.buildOptions, "build-options", "", "Options passed to the OpenCL compiler")

	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	var driver cl.Driver
	if render.NormalizeBackend(renderOpts.backend) == render.BackendOpenCL {
		d, err := cl.NewOpenCLDriver()
		if err != nil {
			return err
		}
		driver = d
	}
	return renderImage(cmd.Context(), cmd.OutOrStdout(), driver, renderOpts)
}

// renderImage renders with the requested backend and writes the file.
// driver may be nil for the cpu backend.
func renderImage(ctx context.Context, out io.Writer, driver cl.Driver, o renderOptions) error {
	format, err := render.FormatFromPath(o.out)
	if err != nil {
		return err
	}
	p := render.Params{Width: o.width, Height: o.height, Bound: o.bound, Bailout: o.bailout}
	if err := p.Validate(); err != nil {
		return err
	}

	var rt *cl.Runtime
	if driver != nil {
		mask, err := cl.ParseDeviceType(o.deviceType)
		if err != nil {
			return err
		}
		sel := &cl.Selector{Driver: driver, Out: out}
		platform, err := sel.SelectPlatform(o.platform)
		if err != nil {
			return err
		}
		devices, err := sel.Devices(platform, mask)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("no %s devices on %s", mask, platform.Name)
		}
		rt, err = cl.NewRuntime(driver, cl.RuntimeConfig{Platform: platform, Devices: devices})
		if err != nil {
			return err
		}
		defer rt.Close()
	}

	r, cleanup, err := render.NewRenderer(o.backend, rt, cl.ProgramOptions{BuildOptions: o.buildOptions, Diag: out})
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	img, err := r.Render(ctx, p)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	f, err := os.Create(o.out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()
	if err := render.Encode(f, img, format); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat output: %w", err)
	}

	slog.Info("Render complete", "backend", render.NormalizeBackend(o.backend), "elapsed", elapsed, "bytes", st.Size())
	fmt.Fprintf(out, "Wrote %s (%dx%d, %s) in %s\n", o.out, p.Width, p.Height,
		humanize.Bytes(uint64(st.Size())), elapsed.Round(time.Millisecond))
	return nil
}
