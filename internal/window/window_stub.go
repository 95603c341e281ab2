//go:build !gpu || !linux

package window

// Open always fails in builds without native window support.
func Open(cfg Config) (Window, error) {
	return nil, ErrNotBuilt
}
