//go:build !gpu

package gl

// New reports ErrNotBuilt in builds without the gpu tag.
func New() (Graphics, error) {
	return nil, ErrNotBuilt
}
