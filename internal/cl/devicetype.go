package cl

import (
	"strings"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// DeviceType is a cl_device_type bitmask. A selector may request a union.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// Matches reports whether a device of type t passes the filter mask.
func (t DeviceType) Matches(mask DeviceType) bool {
	if mask == DeviceTypeAll {
		return true
	}
	return t&mask != 0
}

func (t DeviceType) String() string {
	if t == DeviceTypeAll {
		return "ALL"
	}
	var parts []string
	for _, n := range []struct {
		bit  DeviceType
		name string
	}{
		{DeviceTypeDefault, "DEFAULT"},
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeGPU, "GPU"},
		{DeviceTypeAccelerator, "ACC"},
	} {
		if t&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// ParseDeviceType parses tokens such as "gpu", "cpu|gpu" or "acc+cpu".
// Tokens are case-insensitive and may use the CL_DEVICE_TYPE_ prefix.
func ParseDeviceType(s string) (DeviceType, error) {
	var mask DeviceType
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == '|' }) {
		name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tok)), "cl_device_type_")
		switch name {
		case "all":
			mask |= DeviceTypeAll
		case "default":
			mask |= DeviceTypeDefault
		case "cpu":
			mask |= DeviceTypeCPU
		case "gpu":
			mask |= DeviceTypeGPU
		case "acc", "accelerator":
			mask |= DeviceTypeAccelerator
		default:
			return 0, errs.Configuration("device type", "cannot recognize %s as a device type", s)
		}
	}
	if mask == 0 {
		return 0, errs.Configuration("device type", "cannot recognize %q as a device type", s)
	}
	return mask, nil
}
