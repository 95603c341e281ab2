package cl

import (
	"errors"
	"log/slog"

	"github.com/cwbudde/clglinterop/internal/errs"
)

// NativeHandles are the GL-side handles a context is bound to, supplied by
// the windowing layer.
type NativeHandles struct {
	GLContext uintptr
	// Display is the native device/display context (GLX display, EGL display, HDC).
	Display    uintptr
	DisplayKey ContextProperty
}

// ContextProperties builds the zero terminated property list: platform,
// the two GL binding entries when handles is non-nil, then extra.
func ContextProperties(platform PlatformID, handles *NativeHandles, extra []PropertyPair) []ContextProperty {
	n := 2 + 2*len(extra) + 1
	if handles != nil {
		n += 4
	}
	props := make([]ContextProperty, 0, n)
	props = append(props, PropContextPlatform, ContextProperty(platform))
	if handles != nil {
		key := handles.DisplayKey
		if key == 0 {
			key = PropGLXDisplayKHR
		}
		props = append(props,
			PropGLContextKHR, ContextProperty(handles.GLContext),
			key, ContextProperty(handles.Display),
		)
	}
	for _, p := range extra {
		props = append(props, p.Key, ContextProperty(p.Value))
	}
	return append(props, 0)
}

// RuntimeConfig describes the context to build.
type RuntimeConfig struct {
	Platform Platform
	Devices  []Device
	// Handles binds the context to a GL context. Nil builds a plain compute context.
	Handles    *NativeHandles
	Extra      []PropertyPair
	Properties QueueProperties
}

// Runtime owns an OpenCL context and one command queue per device.
type Runtime struct {
	driver   Driver
	Platform Platform
	Devices  []Device
	Context  ContextID
	Queues   []QueueID
}

// NewRuntime creates the context and its queues. Anything created before a
// failure is released again.
func NewRuntime(d Driver, cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Platform.ID == 0 {
		return nil, errs.Configuration("create context", "platform is not selected")
	}
	if len(cfg.Devices) == 0 {
		return nil, errs.Configuration("create context", "device is not selected")
	}
	ids := make([]DeviceID, len(cfg.Devices))
	for i, dev := range cfg.Devices {
		if dev.ID == 0 {
			return nil, errs.Configuration("create context", "device is not selected")
		}
		ids[i] = dev.ID
	}

	props := ContextProperties(cfg.Platform.ID, cfg.Handles, cfg.Extra)
	ctx, err := d.CreateContext(props, ids)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{driver: d, Platform: cfg.Platform, Devices: cfg.Devices, Context: ctx}
	for _, dev := range cfg.Devices {
		q, err := rt.createQueue(dev, cfg.Properties)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Queues = append(rt.Queues, q)
	}

	slog.Debug("OpenCL context created",
		"platform", cfg.Platform.Name,
		"devices", len(cfg.Devices),
		"gl_bound", cfg.Handles != nil,
		"properties", len(props),
	)
	return rt, nil
}

func (rt *Runtime) createQueue(dev Device, props QueueProperties) (QueueID, error) {
	if dev.ID == 0 {
		return 0, errs.Configuration("create queue", "device is not selected")
	}
	return rt.driver.CreateQueue(rt.Context, dev.ID, props)
}

// Driver returns the driver the runtime was built on.
func (rt *Runtime) Driver() Driver { return rt.driver }

// Device returns the first device.
func (rt *Runtime) Device() Device { return rt.Devices[0] }

// Queue returns the queue of the first device.
func (rt *Runtime) Queue() QueueID { return rt.Queues[0] }

// DeviceIDs returns the handles of all devices.
func (rt *Runtime) DeviceIDs() []DeviceID {
	ids := make([]DeviceID, len(rt.Devices))
	for i, d := range rt.Devices {
		ids[i] = d.ID
	}
	return ids
}

// Close releases the queues, then the context. Errors are logged, never
// returned, so Close is safe on every teardown path.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	var errList []error
	for i := len(rt.Queues) - 1; i >= 0; i-- {
		if err := rt.driver.ReleaseQueue(rt.Queues[i]); err != nil {
			errList = append(errList, err)
		}
	}
	rt.Queues = nil
	if rt.Context != 0 {
		if err := rt.driver.ReleaseContext(rt.Context); err != nil {
			errList = append(errList, err)
		}
		rt.Context = 0
	}
	if err := errors.Join(errList...); err != nil {
		slog.Warn("OpenCL runtime teardown failed", "error", err)
	}
}
