package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clglinterop/internal/cl"
	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/gl"
	"github.com/cwbudde/clglinterop/internal/interop"
	"github.com/cwbudde/clglinterop/internal/server"
	"github.com/cwbudde/clglinterop/internal/store"
	"github.com/cwbudde/clglinterop/internal/window"
)

// runOptions are the flags of the run command.
type runOptions struct {
	platform     string
	deviceType   string
	device       string
	mode         string
	width        int
	height       int
	program      string
	buildOptions string
	frames       uint64
	perfWindow   int
	listen       string
	dataDir      string
	vsync        bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the interop demo in a window",
	Long: `Opens a window, binds an OpenCL context to its OpenGL context and fills a
shared texture from a kernel every frame. Press TAB to cycle the sharing mode,
Escape to quit. Perf reports are printed every window of frames.`,
	RunE: runInterop,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.platform, "platform", "0", "Platform index or name substring")
	f.StringVar(&runOpts.deviceType, "type", "gpu", "Device type filter (all, cpu, gpu, acc, joined by + or |)")
	f.StringVar(&runOpts.device, "device", "", "Device index or name substring (empty = first)")
	f.StringVar(&runOpts.mode, "mode", "texture", "Initial sharing mode: texture, pbo, map")
	f.IntVar(&runOpts.width, "width", 1024, "Frame width in pixels")
	f.IntVar(&runOpts.height, "height", 1024, "Frame height in pixels")
	f.StringVar(&runOpts.program, "program", "", "OpenCL source defining imagefill and bufferfill (default: built in)")
	f.StringVar(&runOpts.buildOptions, "build-options", "", "Options passed to the OpenCL compiler")
	f.Uint64Var(&runOpts.frames, "frames", 0, "Stop after this many frames (0 = until the window closes)")
	f.IntVar(&runOpts.perfWindow, "perf-window", interop.DefaultPerfWindow, "Frames averaged into one perf report")
	f.StringVar(&runOpts.listen, "listen", "", "Serve live telemetry on this address (e.g. :8080)")
	f.StringVar(&runOpts.dataDir, "data-dir", "./data", "Directory for run records and perf traces (empty = none)")
	f.BoolVar(&runOpts.vsync, "vsync", false, "Synchronize swaps with the display refresh")

	rootCmd.AddCommand(runCmd)
}

func (o runOptions) validate() (interop.Mode, error) {
	mode, err := interop.ParseMode(o.mode)
	if err != nil {
		return 0, err
	}
	if o.width <= 0 || o.height <= 0 {
		return 0, errs.Configuration("run", "invalid frame size %dx%d", o.width, o.height)
	}
	if _, err := cl.ParseDeviceType(o.deviceType); err != nil {
		return 0, err
	}
	return mode, nil
}

func runInterop(cmd *cobra.Command, args []string) error {
	mode, err := runOpts.validate()
	if err != nil {
		return err
	}

	// GL contexts are bound to the thread that made them current.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	win, err := window.Open(window.Config{
		Width:  runOpts.width,
		Height: runOpts.height,
		Title:  "OpenCL/OpenGL interop",
		VSync:  runOpts.vsync,
	})
	if err != nil {
		return err
	}
	defer win.Close()

	gfx, err := gl.New()
	if err != nil {
		return err
	}
	driver, err := cl.NewOpenCLDriver()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	_, err = runSession(ctx, interopEnv{
		driver:   driver,
		graphics: gfx,
		window:   win,
		out:      cmd.OutOrStdout(),
	}, runOpts, mode)
	return err
}

// interopEnv holds the native collaborators of a run.
type interopEnv struct {
	driver   cl.Driver
	graphics gl.Graphics
	window   window.Window
	out      io.Writer
}

// runSession selects the device, builds the context and session and loops
// until the window closes. The returned run is nil when no data dir is set.
func runSession(ctx context.Context, env interopEnv, o runOptions, mode interop.Mode) (*store.Run, error) {
	sel := &cl.Selector{Driver: env.driver, Out: env.out}
	selection, err := sel.SelectInteropDevice(o.platform, o.deviceType, o.device)
	if err != nil {
		return nil, err
	}

	handles := env.window.Handles()
	rt, err := cl.NewRuntime(env.driver, cl.RuntimeConfig{
		Platform: selection.Platform,
		Devices:  []cl.Device{selection.Device},
		Handles:  &handles,
	})
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	var (
		reporters []interop.Reporter
		run       *store.Run
		runs      *store.FSStore
		trace     *store.TraceWriter
	)
	if o.dataDir != "" {
		if runs, err = store.NewFSStore(o.dataDir); err != nil {
			return nil, err
		}
		run = store.NewRun(selection.Platform.Name, selection.Device.Name, o.width, o.height, mode)
		run.ImplicitSync = selection.ImplicitSync
		run.PerfWindow = o.perfWindow
		if err := runs.SaveRun(run); err != nil {
			return nil, err
		}
		if trace, err = store.NewTraceWriter(o.dataDir, run.ID); err != nil {
			return nil, err
		}
		defer trace.Close()
		reporters = append(reporters, trace)
	}

	runID := ""
	if run != nil {
		runID = run.ID
	}
	broadcaster := server.NewBroadcaster(runID)
	reporters = append(reporters, broadcaster)

	src := cl.Source{}
	if o.program != "" {
		src.Path = o.program
	}
	session, err := interop.NewSession(interop.Config{
		Runtime:      rt,
		Graphics:     env.graphics,
		Width:        o.width,
		Height:       o.height,
		Mode:         mode,
		ImplicitSync: selection.ImplicitSync,
		Source:       src,
		BuildOptions: o.buildOptions,
		PerfWindow:   o.perfWindow,
		Reporters:    reporters,
		Swap:         env.window.Swap,
		SetTitle:     env.window.SetTitle,
		Out:          env.out,
	})
	if err != nil {
		return finishRun(runs, run, trace, 0, err)
	}
	defer session.Close()

	if o.listen != "" {
		opts := server.Options{DataDir: o.dataDir}
		if runs != nil {
			opts.Store = runs
		}
		srv := server.NewServer(o.listen, session, broadcaster, opts)
		if err := srv.Start(); err != nil {
			return finishRun(runs, run, trace, 0, err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Telemetry server shutdown failed", "error", err)
			}
		}()
		fmt.Fprintf(env.out, "Telemetry on http://%s/api/v1/status\n", srv.Addr())
	}

	frames, loopErr := window.Loop(ctx, env.window, session, o.frames)
	slog.Info("Run finished", "frames", frames, "mode", session.Mode().String())
	return finishRun(runs, run, trace, frames, loopErr)
}

// finishRun records the outcome of a run. It returns runErr unchanged so
// callers can tail-call it.
func finishRun(runs *store.FSStore, run *store.Run, trace *store.TraceWriter, frames uint64, runErr error) (*store.Run, error) {
	if run == nil {
		return nil, runErr
	}
	run.Finish(frames, runErr)
	if trace != nil {
		run.Reports = trace.Count()
		if err := trace.Flush(); err != nil {
			slog.Warn("Failed to flush perf trace", "error", err)
		}
	}
	if err := runs.SaveRun(run); err != nil {
		slog.Warn("Failed to save run record", "runID", run.ID, "error", err)
	}
	return run, runErr
}
