package compute

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Handle identifies a memory object in a Device's Buffers registry. Valid handles are >= 1.
type Handle int

// InvalidHandle is never assigned to a memory object.
const InvalidHandle Handle = 0

type memoryEntry struct {
	memory        Memory
	width, height int // Only for planes.
}

// Buffers is the registry of the memory objects of a Device: it maps Handle values to backend memory.
//
// Handles increase monotonically, starting at 1, and are never reissued, not even after DestroyAll.
// Transfers are executed in the Device's CommandQueue, in order with kernel dispatches.
//
// Buffers is not safe for concurrent use.
type Buffers struct {
	backend Backend
	queue   *CommandQueue
	entries map[Handle]*memoryEntry
	last    Handle
}

func newBuffers(backend Backend, queue *CommandQueue) *Buffers {
	return &Buffers{
		backend: backend,
		queue:   queue,
		entries: make(map[Handle]*memoryEntry),
	}
}

func (r *Buffers) nextHandle() Handle {
	r.last++
	return r.last
}

func (r *Buffers) register(entry *memoryEntry) Handle {
	h := r.nextHandle()
	r.entries[h] = entry
	return h
}

// AllocBuffer allocates a plain buffer of size bytes on the device.
func (r *Buffers) AllocBuffer(size int) (Handle, error) {
	if size <= 0 {
		return InvalidHandle, newError(CodeBufferAllocationFailed, backendErrorf(StatusInvalidBufferSize, "size=%d", size),
			"allocating buffer")
	}
	mem, err := r.backend.NewBuffer(size)
	if err != nil {
		return InvalidHandle, newError(CodeBufferAllocationFailed, err, "allocating buffer of %d bytes", size)
	}
	return r.register(&memoryEntry{memory: mem}), nil
}

// AllocPlane allocates a plane of width x height 8-bit pixels on the device.
// Its storage is PlaneDimensions(width, height).
func (r *Buffers) AllocPlane(width, height int) (Handle, error) {
	if width <= 0 || height <= 0 {
		return InvalidHandle, newError(CodePlaneAllocationFailed,
			backendErrorf(StatusInvalidImageSize, "plane %dx%d", width, height), "allocating plane")
	}
	mem, err := r.backend.NewPlane(width, height)
	if err != nil {
		return InvalidHandle, newError(CodePlaneAllocationFailed, err, "allocating plane of %dx%d", width, height)
	}
	return r.register(&memoryEntry{memory: mem, width: width, height: height}), nil
}

// IsValid returns whether h refers to a live memory object.
func (r *Buffers) IsValid(h Handle) bool {
	_, found := r.entries[h]
	return found
}

// Len returns the number of live memory objects.
func (r *Buffers) Len() int {
	return len(r.entries)
}

// Kind returns the kind of memory object h refers to. It returns false if h is not valid.
func (r *Buffers) Kind(h Handle) (MemoryKind, bool) {
	entry, found := r.entries[h]
	if !found {
		return KindBuffer, false
	}
	return entry.memory.Kind(), true
}

// Size returns the size in bytes of the storage of h, or 0 if h is not valid.
func (r *Buffers) Size(h Handle) int {
	entry, found := r.entries[h]
	if !found {
		return 0
	}
	return entry.memory.Size()
}

// memory returns the backend memory object of h.
func (r *Buffers) memory(h Handle) (Memory, bool) {
	entry, found := r.entries[h]
	if !found {
		return nil, false
	}
	return entry.memory, true
}

// Destroy releases the memory object of h exactly once and removes it from the registry.
// Destroying an unknown handle is a no-op.
//
// Commands already enqueued that use h still hold a reference to its memory: destroy only after they are done.
func (r *Buffers) Destroy(h Handle) error {
	entry, found := r.entries[h]
	if !found {
		return nil
	}
	delete(r.entries, h)
	if err := entry.memory.Release(); err != nil {
		return newError(CodeInvalidParameter, err, "releasing %s handle %d", entry.memory.Kind(), h)
	}
	return nil
}

// DestroyAll destroys every memory object in the registry.
// It returns the first error encountered, but still destroys all objects.
func (r *Buffers) DestroyAll() error {
	var firstErr error
	for h := range r.entries {
		if err := r.Destroy(h); err != nil {
			klog.Errorf("Buffers.DestroyAll(): %+v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// entryOf returns the entry of h checking that it is of the given kind.
func (r *Buffers) entryOf(h Handle, kind MemoryKind) (*memoryEntry, error) {
	entry, found := r.entries[h]
	if !found {
		return nil, newError(CodeInvalidParameter, backendErrorf(StatusInvalidMemObject, "handle %d", h),
			"unknown %s handle", kind)
	}
	if entry.memory.Kind() != kind {
		return nil, newError(CodeInvalidParameter, backendErrorf(StatusInvalidMemObject, "handle %d", h),
			"handle %d is a %s, not a %s", h, entry.memory.Kind(), kind)
	}
	return entry, nil
}

// CopyToBufferAsync enqueues the copy of data to the start of the buffer h.
// data must not be modified until the returned Event is complete.
func (r *Buffers) CopyToBufferAsync(h Handle, data []byte, waitFor ...*Event) (*Event, error) {
	entry, err := r.entryOf(h, KindBuffer)
	if err != nil {
		return nil, err
	}
	if len(data) > entry.memory.Size() {
		return nil, newError(CodeInvalidParameter, nil, "copying %d bytes to buffer %d of %d bytes",
			len(data), h, entry.memory.Size())
	}
	mem := entry.memory
	return r.enqueueCopy(fmt.Sprintf("copy to buffer %d", h), waitFor, func() error {
		return r.backend.WriteBuffer(mem, data)
	})
}

// CopyToBuffer copies data to the start of the buffer h and waits for it to complete.
func (r *Buffers) CopyToBuffer(h Handle, data []byte) error {
	e, err := r.CopyToBufferAsync(h, data)
	if err != nil {
		return err
	}
	return e.Await()
}

// CopyFromBufferAsync enqueues the copy of the start of the buffer h to data.
// data must not be used until the returned Event is complete.
func (r *Buffers) CopyFromBufferAsync(h Handle, data []byte, waitFor ...*Event) (*Event, error) {
	entry, err := r.entryOf(h, KindBuffer)
	if err != nil {
		return nil, err
	}
	if len(data) > entry.memory.Size() {
		return nil, newError(CodeInvalidParameter, nil, "copying %d bytes from buffer %d of %d bytes",
			len(data), h, entry.memory.Size())
	}
	mem := entry.memory
	return r.enqueueCopy(fmt.Sprintf("copy from buffer %d", h), waitFor, func() error {
		return r.backend.ReadBuffer(mem, data)
	})
}

// CopyFromBuffer copies the start of the buffer h to data and waits for it to complete.
func (r *Buffers) CopyFromBuffer(h Handle, data []byte) error {
	e, err := r.CopyFromBufferAsync(h, data)
	if err != nil {
		return err
	}
	return e.Await()
}

// checkPlaneCopy validates the host side of a plane transfer.
func checkPlaneCopy(entry *memoryEntry, h Handle, host []byte, cols, rows, pitch int) error {
	switch {
	case cols <= 0 || rows <= 0:
		return newError(CodeInvalidParameter, nil, "plane %d copy of %dx%d pixels", h, cols, rows)
	case pitch < cols:
		return newError(CodeInvalidParameter, nil, "plane %d copy with pitch %d < %d columns", h, pitch, cols)
	case cols > entry.width || rows > entry.height:
		return newError(CodeInvalidParameter, nil, "plane %d copy of %dx%d pixels, plane is %dx%d",
			h, cols, rows, entry.width, entry.height)
	case len(host) < (rows-1)*pitch+cols:
		return newError(CodeInvalidParameter, nil, "plane %d copy of %dx%d pixels with pitch %d needs %d bytes, host has %d",
			h, cols, rows, pitch, (rows-1)*pitch+cols, len(host))
	}
	return nil
}

// CopyToPlaneAsync enqueues the copy of rows x cols pixels from host, with rows pitch bytes apart, to the plane h.
// host must not be modified until the returned Event is complete.
func (r *Buffers) CopyToPlaneAsync(h Handle, host []byte, cols, rows, pitch int, waitFor ...*Event) (*Event, error) {
	entry, err := r.entryOf(h, KindPlane)
	if err != nil {
		return nil, err
	}
	if err = checkPlaneCopy(entry, h, host, cols, rows, pitch); err != nil {
		return nil, err
	}
	mem := entry.memory
	return r.enqueueCopy(fmt.Sprintf("copy to plane %d", h), waitFor, func() error {
		return r.backend.WritePlane(mem, host, cols, rows, pitch)
	})
}

// CopyToPlane copies rows x cols pixels from host, with rows pitch bytes apart, to the plane h and waits for it
// to complete.
func (r *Buffers) CopyToPlane(h Handle, host []byte, cols, rows, pitch int) error {
	e, err := r.CopyToPlaneAsync(h, host, cols, rows, pitch)
	if err != nil {
		return err
	}
	return e.Await()
}

// CopyFromPlaneAsync enqueues the copy of rows x cols pixels of the plane h to host, with rows pitch bytes apart.
// If antecedent is not nil, the copy starts only after it completes.
// host must not be used until the returned Event is complete.
func (r *Buffers) CopyFromPlaneAsync(h Handle, host []byte, cols, rows, pitch int, antecedent *Event) (*Event, error) {
	entry, err := r.entryOf(h, KindPlane)
	if err != nil {
		return nil, err
	}
	if err = checkPlaneCopy(entry, h, host, cols, rows, pitch); err != nil {
		return nil, err
	}
	var waitFor []*Event
	if antecedent != nil {
		waitFor = []*Event{antecedent}
	}
	mem := entry.memory
	return r.enqueueCopy(fmt.Sprintf("copy from plane %d", h), waitFor, func() error {
		return r.backend.ReadPlane(mem, host, cols, rows, pitch)
	})
}

// CopyFromPlane copies rows x cols pixels of the plane h to host, with rows pitch bytes apart, and waits for it
// to complete.
func (r *Buffers) CopyFromPlane(h Handle, host []byte, cols, rows, pitch int) error {
	e, err := r.CopyFromPlaneAsync(h, host, cols, rows, pitch, nil)
	if err != nil {
		return err
	}
	return e.Await()
}

func (r *Buffers) enqueueCopy(name string, waitFor []*Event, copyFn func() error) (*Event, error) {
	e, err := r.queue.Enqueue(name, waitFor, func() error {
		if err := copyFn(); err != nil {
			return newError(CodeCopyFailed, err, "%s", name)
		}
		return nil
	})
	if err != nil {
		return nil, newError(CodeCopyFailed, err, "enqueueing %s", name)
	}
	return e, nil
}
