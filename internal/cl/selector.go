package cl

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// Selector resolves platform and device selectors against a Driver and
// prints every candidate to Out, marking the winner with "[Selected]".
type Selector struct {
	Driver Driver
	Out    io.Writer
}

// NewSelector returns a Selector that prints to stdout.
func NewSelector(d Driver) *Selector {
	return &Selector{Driver: d, Out: os.Stdout}
}

// Selection is the outcome of interop device selection.
type Selection struct {
	Platform Platform
	Device   Device
	// ImplicitSync is set when the device supports cl_khr_gl_event, so
	// acquire/release already order GL and CL work on the same thread.
	ImplicitSync bool
}

// isIndex reports whether s selects by index rather than by name.
func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// pick prints all names and returns the chosen position. The whole list is
// always printed, even after a match.
func (s *Selector) pick(names []string, selector string) (int, error) {
	byIndex := isIndex(selector)
	selected := len(names)
	if byIndex {
		n, err := strconv.Atoi(selector)
		if err != nil {
			// Too large for int: out of range by definition.
			n = len(names)
		}
		selected = n
	}

	for i, name := range names {
		fmt.Fprintf(s.out(), "    [%d] %s", i, name)
		if (byIndex && selected == i) || (!byIndex && selected == len(names) && strings.Contains(name, selector)) {
			fmt.Fprint(s.out(), " [Selected]")
			selected = i
		}
		fmt.Fprintln(s.out())
	}

	if selected >= len(names) || selected < 0 {
		if byIndex {
			return -1, errs.ErrIndexOutOfRange
		}
		return -1, errs.ErrNoMatch
	}
	return selected, nil
}

func (s *Selector) out() io.Writer {
	if s.Out == nil {
		return io.Discard
	}
	return s.Out
}

// Platforms enumerates all platforms with their names.
func (s *Selector) Platforms() ([]Platform, error) {
	ids, err := s.Driver.PlatformIDs()
	if err != nil {
		return nil, err
	}
	platforms := make([]Platform, 0, len(ids))
	for _, id := range ids {
		name, err := s.Driver.PlatformName(id)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, Platform{ID: id, Name: name})
	}
	return platforms, nil
}

// Devices enumerates the devices the driver reports for mask, sorted by name
// so indices stay stable from run to run regardless of driver order. The
// driver's answer is final: a default device need not carry the DEFAULT bit.
func (s *Selector) Devices(platform Platform, mask DeviceType) ([]Device, error) {
	ids, err := s.Driver.DeviceIDs(platform.ID, mask)
	if err != nil {
		if errs.IsCLCode(err, errs.CLDeviceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	devices := make([]Device, 0, len(ids))
	for _, id := range ids {
		d, err := s.describe(id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if len(devices) > 1 {
		sort.SliceStable(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	}
	return devices, nil
}

func (s *Selector) describe(id DeviceID) (Device, error) {
	name, err := s.Driver.DeviceName(id)
	if err != nil {
		return Device{}, err
	}
	typ, err := s.Driver.DeviceType(id)
	if err != nil {
		return Device{}, err
	}
	ext, err := s.Driver.DeviceExtensions(id)
	if err != nil {
		return Device{}, err
	}
	return Device{ID: id, Name: name, Type: typ, Extensions: ext}, nil
}

// SelectPlatform resolves selector as an index or a name substring.
func (s *Selector) SelectPlatform(selector string) (Platform, error) {
	platforms, err := s.Platforms()
	if err != nil {
		return Platform{}, err
	}

	fmt.Fprintf(s.out(), "Platforms (%d):\n", len(platforms))
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = p.Name
	}
	idx, err := s.pick(names, selector)
	if err != nil {
		return Platform{}, &errs.ResourceNotFoundError{Resource: "platform", Selector: selector, Err: err}
	}
	return platforms[idx], nil
}

// SelectDevice resolves deviceSelector among the devices of platform that
// match typeSelector.
func (s *Selector) SelectDevice(platform Platform, typeSelector, deviceSelector string) (Device, error) {
	mask, err := ParseDeviceType(typeSelector)
	if err != nil {
		return Device{}, err
	}
	devices, err := s.Devices(platform, mask)
	if err != nil {
		return Device{}, err
	}

	fmt.Fprintf(s.out(), "Devices (%d", len(devices))
	if mask != DeviceTypeAll {
		fmt.Fprintf(s.out(), "; filtered by type %s", typeSelector)
	}
	fmt.Fprintln(s.out(), "):")

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	idx, err := s.pick(names, deviceSelector)
	if err != nil {
		return Device{}, &errs.ResourceNotFoundError{
			Resource:   "device",
			Selector:   deviceSelector,
			TypeFilter: typeSelector,
			Err:        err,
		}
	}
	return devices[idx], nil
}

// SelectInteropDevice selects platform and device and checks that the device
// can share objects with the current GL context.
func (s *Selector) SelectInteropDevice(platformSelector, typeSelector, deviceSelector string) (Selection, error) {
	// Grammar errors must surface before any driver call.
	if _, err := ParseDeviceType(typeSelector); err != nil {
		return Selection{}, err
	}

	platform, err := s.SelectPlatform(platformSelector)
	if err != nil {
		return Selection{}, err
	}
	device, err := s.SelectDevice(platform, typeSelector, deviceSelector)
	if err != nil {
		return Selection{}, err
	}

	if !device.SupportsGLSharing() {
		fmt.Fprintf(s.out(), "The selected device doesn't support %s!\n", ExtGLSharing)
		return Selection{}, &errs.ResourceNotFoundError{
			Resource:   "device",
			Selector:   deviceSelector,
			TypeFilter: typeSelector,
			Err:        fmt.Errorf("%w: %s lacks %s", errs.ErrNoSuitableDevice, device.Name, ExtGLSharing),
		}
	}

	sel := Selection{Platform: platform, Device: device, ImplicitSync: device.SupportsGLEvent()}
	if sel.ImplicitSync {
		fmt.Fprintf(s.out(), "The selected device supports %s, so acquire/release implicitly synchronize with the GL context bound to this thread.\n", ExtGLEvent)
	}
	slog.Info("OpenCL device selected",
		"platform", platform.Name,
		"device", device.Name,
		"type", device.Type.String(),
		"implicit_sync", sel.ImplicitSync,
	)
	return sel, nil
}

// PlatformListing is one platform with all its devices, for inventory output.
type PlatformListing struct {
	Platform Platform
	Devices  []Device
}

// ListAll enumerates every platform and every device without selecting.
func (s *Selector) ListAll() ([]PlatformListing, error) {
	platforms, err := s.Platforms()
	if err != nil {
		return nil, err
	}
	out := make([]PlatformListing, 0, len(platforms))
	for _, p := range platforms {
		devices, err := s.Devices(p, DeviceTypeAll)
		if err != nil {
			return nil, err
		}
		out = append(out, PlatformListing{Platform: p, Devices: devices})
	}
	return out, nil
}
