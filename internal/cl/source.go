package cl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// Source is program text given either inline or as a file path. Exactly
// one of the two must be set.
type Source struct {
	Path string
	Text string
}

// Validate rejects sources with both or neither field set.
func (s Source) Validate() error {
	switch {
	case s.Path != "" && s.Text != "":
		return errs.Configuration("program source", "both program file name and program text are specified; should be one of them only")
	case s.Path == "" && s.Text == "":
		return errs.Configuration("program source", "neither program file name nor program text is specified; one of them is required")
	}
	return nil
}

// executableDir is replaced in tests.
var executableDir = func() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// Bytes returns the zero terminated program text, loading it from disk
// when Path is set. Lookup diagnostics go to diag.
func (s Source) Bytes(diag io.Writer) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Path != "" {
		return LoadSource(s.Path, diag)
	}
	buf := make([]byte, len(s.Text)+1)
	copy(buf, s.Text)
	return buf, nil
}

// LoadSource reads path as-is (absolute or relative to the working
// directory) and falls back to the directory of the running executable.
// The returned buffer always ends with an extra zero byte.
func LoadSource(path string, diag io.Writer) ([]byte, error) {
	if diag == nil {
		diag = io.Discard
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(diag, "[ WARNING ] Unable to load OpenCL source code file %q at the default location.\n"+
			"Trying to open the file from the directory with executable...", path)

		dir, derr := executableDir()
		if derr != nil {
			fmt.Fprintln(diag, " FAILED")
			return nil, fmt.Errorf("cannot open file %q: %w", path, derr)
		}
		full := filepath.Join(dir, path)
		data, err = os.ReadFile(full)
		if err != nil {
			fmt.Fprintln(diag, " FAILED")
			return nil, fmt.Errorf("cannot open file %q: %w", full, err)
		}
		fmt.Fprintln(diag, " OK")
		fmt.Fprintf(diag, "Full file path is %q\n", full)
	}

	return append(data, 0), nil
}
