package filter

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Manifest collects the frame numbers a MultiFrame filter needs uploaded, and the host planes supplied for
// them.
//
// A cycle goes: MultiFrame.SupplyFrameNumbers requests the numbers; the host loops on GetFrameNumber and
// Supply until there are no pending numbers; then MultiFrame.CopyTo retrieves the planes.
type Manifest struct {
	frames map[int][]byte
}

// NewManifest returns an empty Manifest.
func NewManifest() *Manifest {
	return &Manifest{frames: make(map[int][]byte)}
}

// Request records that frame n is needed. Requesting it again is a no-op.
func (m *Manifest) Request(n int) {
	if _, found := m.frames[n]; !found {
		m.frames[n] = nil
	}
}

// GetFrameNumber returns the lowest requested frame number not yet supplied, and false if there is none.
func (m *Manifest) GetFrameNumber() (int, bool) {
	for _, n := range slices.Sorted(maps.Keys(m.frames)) {
		if m.frames[n] == nil {
			return n, true
		}
	}
	return 0, false
}

// Supply attaches the host plane of frame n. It fails if n was never requested, or if pix is empty.
func (m *Manifest) Supply(n int, pix []byte) error {
	if _, found := m.frames[n]; !found {
		return errors.Errorf("frame %d supplied, but it was not requested", n)
	}
	if len(pix) == 0 {
		return errors.Errorf("empty plane supplied for frame %d", n)
	}
	m.frames[n] = pix
	return nil
}

// Retrieve returns the host plane supplied for frame n, or false if it was not supplied.
func (m *Manifest) Retrieve(n int) ([]byte, bool) {
	pix := m.frames[n]
	return pix, pix != nil
}

// Pending returns the requested frame numbers not yet supplied, in ascending order.
func (m *Manifest) Pending() []int {
	var pending []int
	for _, n := range slices.Sorted(maps.Keys(m.frames)) {
		if m.frames[n] == nil {
			pending = append(pending, n)
		}
	}
	return pending
}

// Len returns the number of requested frames.
func (m *Manifest) Len() int {
	return len(m.frames)
}
