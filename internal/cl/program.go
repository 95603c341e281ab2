package cl

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// Kernel is a named entry point of a built program.
type Kernel struct {
	driver Driver
	ID     KernelID
	Name   string
}

// SetArgs binds args to consecutive argument indices starting at 0.
func (k *Kernel) SetArgs(args ...any) error {
	for i, a := range args {
		if err := k.driver.SetKernelArg(k.ID, i, a); err != nil {
			return err
		}
	}
	return nil
}

// Program is a compiled program. Kernels are resolved lazily by name and
// cached until Close.
type Program struct {
	driver  Driver
	ID      ProgramID
	devices []Device

	mu      sync.Mutex
	kernels map[string]*Kernel
}

// ProgramOptions tunes program construction.
type ProgramOptions struct {
	BuildOptions string
	// Diag receives source lookup warnings. Defaults to stderr.
	Diag io.Writer
}

// NewProgram compiles src for every device of rt.
func NewProgram(rt *Runtime, src Source, opts ProgramOptions) (*Program, error) {
	diag := opts.Diag
	if diag == nil {
		diag = os.Stderr
	}
	text, err := src.Bytes(diag)
	if err != nil {
		return nil, err
	}

	d := rt.Driver()
	id, err := d.CreateProgramWithSource(rt.Context, text)
	if err != nil {
		return nil, err
	}
	p := &Program{driver: d, ID: id, devices: rt.Devices, kernels: make(map[string]*Kernel)}

	if err := p.build(opts.BuildOptions); err != nil {
		if rerr := d.ReleaseProgram(id); rerr != nil {
			slog.Warn("Failed to release program after build failure", "error", rerr)
		}
		return nil, err
	}
	return p, nil
}

func (p *Program) build(options string) error {
	ids := make([]DeviceID, len(p.devices))
	for i, dev := range p.devices {
		ids[i] = dev.ID
	}

	err := p.driver.BuildProgram(p.ID, ids, options)
	if err == nil {
		return nil
	}
	if !errs.IsCLCode(err, errs.CLBuildProgramFailure) {
		return err
	}

	// Collect the log of every device before failing so later devices are
	// not lost behind the first one.
	berr := &errs.BuildError{}
	for _, dev := range p.devices {
		log, lerr := p.driver.ProgramBuildLog(p.ID, dev.ID)
		if lerr != nil {
			return lerr
		}
		berr.Logs = append(berr.Logs, errs.DeviceLog{Device: dev.Name, Log: log})
	}
	return berr
}

// Kernel returns the kernel called name, creating it on first use.
func (p *Program) Kernel(name string) (*Kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if k, ok := p.kernels[name]; ok {
		return k, nil
	}
	id, err := p.driver.CreateKernel(p.ID, name)
	if err != nil {
		return nil, err
	}
	k := &Kernel{driver: p.driver, ID: id, Name: name}
	p.kernels[name] = k
	return k, nil
}

// Close releases every cached kernel, then the program.
func (p *Program) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var errList []error
	for name, k := range p.kernels {
		if err := p.driver.ReleaseKernel(k.ID); err != nil {
			errList = append(errList, err)
		}
		delete(p.kernels, name)
	}
	if p.ID != 0 {
		if err := p.driver.ReleaseProgram(p.ID); err != nil {
			errList = append(errList, err)
		}
		p.ID = 0
	}
	return errors.Join(errList...)
}

// SingleKernelProgram is a program with one kernel resolved at construction.
type SingleKernelProgram struct {
	Program *Program
	Kernel  *Kernel
}

// NewSingleKernelProgram builds src and resolves kernelName eagerly.
func NewSingleKernelProgram(rt *Runtime, src Source, kernelName string, opts ProgramOptions) (*SingleKernelProgram, error) {
	if kernelName == "" {
		return nil, errs.Configuration("program", "kernel name is required")
	}
	p, err := NewProgram(rt, src, opts)
	if err != nil {
		return nil, err
	}
	k, err := p.Kernel(kernelName)
	if err != nil {
		if cerr := p.Close(); cerr != nil {
			slog.Warn("Failed to release program", "error", cerr)
		}
		return nil, err
	}
	return &SingleKernelProgram{Program: p, Kernel: k}, nil
}

// Close releases the kernel and the program.
func (s *SingleKernelProgram) Close() error {
	if s == nil {
		return nil
	}
	return s.Program.Close()
}
