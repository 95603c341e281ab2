// Package errs holds the error taxonomy shared by the OpenCL and OpenGL
// sides of the interop layer.
//
// Every fatal error is one of ConfigurationError, ResourceNotFoundError,
// DriverError or BuildError. ZeroCopyDegradation is the only non-fatal
// condition; it is reported, never returned from a frame.
package errs

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrIndexOutOfRange is wrapped when a numeric selector exceeds the candidate count.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNoMatch is wrapped when no candidate name contains the selector substring.
	ErrNoMatch = errors.New("no name matches")
	// ErrNoSuitableDevice is wrapped when the chosen device lacks a mandatory capability.
	ErrNoSuitableDevice = errors.New("no suitable device found")
)

// ConfigurationError reports invalid user input detected before any driver call.
type ConfigurationError struct {
	Op     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Op == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error: " + e.Op + ": " + e.Reason
}

// Configuration builds a ConfigurationError.
func Configuration(op, format string, args ...any) error {
	return &ConfigurationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ResourceNotFoundError reports a selector that resolved to nothing.
type ResourceNotFoundError struct {
	Resource   string // "platform" or "device"
	Selector   string
	TypeFilter string
	Err        error
}

func (e *ResourceNotFoundError) Error() string {
	var b strings.Builder
	switch {
	case errors.Is(e.Err, ErrIndexOutOfRange):
		fmt.Fprintf(&b, "given index of %s (%s) is out of range of available %ss", e.Resource, e.Selector, e.Resource)
	case errors.Is(e.Err, ErrNoMatch):
		fmt.Fprintf(&b, "there is no found %s with name containing %q as a substring", e.Resource, e.Selector)
	default:
		fmt.Fprintf(&b, "%s %q: %v", e.Resource, e.Selector, e.Err)
	}
	if e.TypeFilter != "" && !strings.EqualFold(e.TypeFilter, "all") {
		fmt.Fprintf(&b, " (among devices of type %s)", e.TypeFilter)
	}
	return b.String()
}

func (e *ResourceNotFoundError) Unwrap() error { return e.Err }

// DriverError reports a failing OpenCL or OpenGL call.
type DriverError struct {
	API  string // "OpenCL" or "OpenGL"
	Call string
	Code int
	Name string
	File string
	Line int
}

func (e *DriverError) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" at %s:%d", e.File, e.Line)
	}
	return fmt.Sprintf("%s error: %s (%d) happened for the following expression: %s%s", e.API, e.Name, e.Code, e.Call, loc)
}

// CL builds a DriverError for an OpenCL status code. The source location
// is that of the caller.
func CL(call string, code int) error {
	return newDriverError("OpenCL", call, code, CLCodeName(code), 2)
}

// GL builds a DriverError for a glGetError value.
func GL(call string, code int) error {
	return newDriverError("OpenGL", call, code, GLCodeName(code), 2)
}

func newDriverError(api, call string, code int, name string, skip int) *DriverError {
	e := &DriverError{API: api, Call: call, Code: code, Name: name}
	if _, file, line, ok := runtime.Caller(skip); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	return e
}

// IsCLCode reports whether err is an OpenCL DriverError carrying code.
func IsCLCode(err error, code int) bool {
	var de *DriverError
	return errors.As(err, &de) && de.API == "OpenCL" && de.Code == code
}

// DeviceLog is the build log of one target device.
type DeviceLog struct {
	Device string
	Log    string
}

// BuildError reports a program compile/link failure with the per-device logs.
type BuildError struct {
	Logs []DeviceLog
}

func (e *BuildError) Error() string {
	return "error happened during the build of OpenCL program.\nBuild log:\n" + e.Log()
}

// Log returns the build logs verbatim, one device after another.
func (e *BuildError) Log() string {
	if len(e.Logs) == 1 {
		return e.Logs[0].Log
	}
	var b strings.Builder
	for i, l := range e.Logs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", l.Device, l.Log)
	}
	return b.String()
}

// ZeroCopyDegradation reports a mapped host pointer that misses the
// zero-copy alignment or size rules. The runtime falls back to copying.
type ZeroCopyDegradation struct {
	Ptr  uintptr
	Size int
}

func (e *ZeroCopyDegradation) Error() string {
	return fmt.Sprintf("pointer alignment and/or size of the area do not satisfy rules to enable zero-copy behaviour (ptr=%#x size=%d)", e.Ptr, e.Size)
}

// Classify names the taxonomy bucket of err for user-facing reports.
func Classify(err error) string {
	var (
		ce *ConfigurationError
		re *ResourceNotFoundError
		de *DriverError
		be *BuildError
	)
	switch {
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &re):
		return "resource not found"
	case errors.As(err, &be):
		return "build"
	case errors.As(err, &de):
		return "driver"
	default:
		return "internal"
	}
}
