package render

// Band is a contiguous run of image rows assigned to one device.
type Band struct {
	Offset int
	Rows   int
}

// Partition splits height rows across n devices. Every band has
// height/n rows, widened by height%n when that does not divide evenly;
// the last non-empty band is clamped to the image. Trailing devices may
// receive an empty band.
func Partition(height, n int) []Band {
	if n <= 0 || height <= 0 {
		return nil
	}
	batch := height / n
	if batch*n < height {
		batch += height % n
	}

	bands := make([]Band, n)
	for i := range bands {
		start := min(i*batch, height)
		end := min(start+batch, height)
		bands[i] = Band{Offset: start, Rows: end - start}
	}
	return bands
}
