//go:build !gpu

package cl

// NewOpenCLDriver returns ErrNotBuilt when OpenCL support is not compiled in.
func NewOpenCLDriver() (Driver, error) {
	return nil, ErrNotBuilt
}
