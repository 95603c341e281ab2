package interop

import "github.com/cwbudde/clglinterop/internal/cl"

// ownership is held while OpenCL owns the shared object. Release is
// idempotent, so callers defer it right after a successful acquire and may
// still release explicitly to order later steps.
type ownership struct {
	res      sharedResource
	mem      cl.MemID
	released bool
}

func acquireOwnership(res sharedResource) (*ownership, error) {
	mem, err := res.acquire()
	if err != nil {
		return nil, err
	}
	return &ownership{res: res, mem: mem}, nil
}

func (o *ownership) Release() error {
	if o.released {
		return nil
	}
	o.released = true
	return o.res.release()
}
