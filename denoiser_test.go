package nlmeans

import (
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/filter"
)

// stubFilter downloads a constant plane through a command queue, held until release is closed.
type stubFilter struct {
	queue      *compute.CommandQueue
	release    chan struct{}
	value      byte
	executeErr error
}

func (f *stubFilter) Kind() filter.Kind { return filter.KindSingleFrame }
func (f *stubFilter) Destroy() error    { return nil }
func (f *stubFilter) Execute() error    { return f.executeErr }

func (f *stubFilter) CopyFrom(dst []byte) (*compute.Event, error) {
	return f.queue.Enqueue("stub download", nil, func() error {
		<-f.release
		for ii := range dst {
			dst[ii] = f.value
		}
		return nil
	})
}

func TestDenoiserExecuteWaitsForDownloadsOnError(t *testing.T) {
	ctx := must.M1(compute.NewContext(compute.SoftwareDriverName, nil))
	defer func() { require.NoError(t, ctx.Destroy()) }()
	queue := must.M1(ctx.Device(0)).Queue()

	release := make(chan struct{})
	d := &Denoiser{}
	d.filters[PlaneY] = &stubFilter{queue: queue, release: release, value: 7}
	d.filters[PlaneU] = &stubFilter{queue: queue, release: release, executeErr: errors.New("U failed")}
	dst := NewFrame(8, 4, 4, 2)

	done := make(chan error, 1)
	go func() { done <- d.execute(0, dst) }()
	select {
	case err := <-done:
		t.Fatalf("execute returned (%v) while the download of Y was still pending", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	err := <-done
	require.ErrorContains(t, err, "U failed")
	assert.Equal(t, byte(7), dst.Y().At(7, 3), "download of Y completed before execute returned")
}
