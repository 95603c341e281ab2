package render

import (
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// Format is an output image format.
type Format string

const (
	FormatPNG Format = "png"
	FormatBMP Format = "bmp"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	}
	return "", errs.Configuration("render", "unsupported output extension %q (want .png or .bmp)", filepath.Ext(path))
}

// Encode writes img in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	}
	return errs.Configuration("render", "unsupported format %q", f)
}
