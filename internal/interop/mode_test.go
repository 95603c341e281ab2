package interop

import (
	"errors"
	"testing"

	"github.com/cwbudde/clglinterop/internal/errs"
)

func TestModeNext(t *testing.T) {
	tests := []struct {
		in, want Mode
	}{
		{ModeTexture, ModeBufferPBO},
		{ModeBufferPBO, ModeBufferMap},
		{ModeBufferMap, ModeTexture},
	}
	for _, tt := range tests {
		if got := tt.in.Next(); got != tt.want {
			t.Errorf("%v.Next() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"texture": ModeTexture,
		"Image":   ModeTexture,
		"PBO":     ModeBufferPBO,
		"map":     ModeBufferMap,
	} {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}

	_, err := ParseMode("zero-copy")
	var cerr *errs.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestZeroCopyCompatible(t *testing.T) {
	tests := []struct {
		ptr  uintptr
		size int
		want bool
	}{
		{0x10000, 4096, true},
		{0x10000, 64, true},
		{0x10010, 4096, false},
		{0x10000, 100, false},
	}
	for _, tt := range tests {
		if got := ZeroCopyCompatible(tt.ptr, tt.size); got != tt.want {
			t.Errorf("ZeroCopyCompatible(%#x, %d) = %v, want %v", tt.ptr, tt.size, got, tt.want)
		}
	}
}
