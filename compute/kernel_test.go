package compute

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalWorkSize(t *testing.T) {
	device := newTestDevice(t)
	k := must.M1(device.NewKernelInstance("Fill"))

	_, err := k.GlobalWorkSize()
	require.Error(t, err, "work dim not set")

	require.NoError(t, k.SetWorkDim(2))
	k.SetLocalWorkSize(8, 16)
	k.SetScalarGlobalSize(100, 32*8)
	k.SetScalarItemSize(1, 1)
	global, err := k.GlobalWorkSize()
	require.NoError(t, err)
	// ceil(100 / 8) * 8 = 104, ceil(256 / 16) * 16 = 256.
	require.Equal(t, []int{104, 256}, global)

	k.SetScalarItemSize(4, 2)
	global = must.M1(k.GlobalWorkSize())
	// ceil(100 / 32) * 8 = 32, ceil(256 / 32) * 16 = 128.
	require.Equal(t, []int{32, 128}, global)

	k.SetLocalWorkSize(8)
	_, err = k.GlobalWorkSize()
	require.Equal(t, StatusInvalidWorkDimension, StatusOf(err))

	err = k.SetWorkDim(4)
	require.Equal(t, CodeInvalidParameter, CodeOf(err))
}

func TestKernelArgumentLatch(t *testing.T) {
	device := newTestDevice(t)
	h := must.M1(device.Buffers().AllocBuffer(64 * 4))
	k := must.M1(device.NewKernelInstance("Fill"))
	require.NoError(t, k.SetWorkDim(1))
	k.SetLocalWorkSize(64)
	k.SetScalarGlobalSize(64)
	k.SetScalarItemSize(1)
	require.NoError(t, k.SetArg(h))

	// Go's int is 8 bytes: it doesn't fit the uint parameter.
	err := k.SetArg(7)
	require.Error(t, err)
	require.Equal(t, CodeKernelArgumentInvalid, CodeOf(err))
	require.Equal(t, StatusInvalidArgSize, StatusOf(err))
	require.False(t, k.ArgumentsValid())
	require.Equal(t, StatusInvalidArgSize, k.LastStatus())

	// Correcting the argument doesn't revalidate the instance.
	require.NoError(t, k.SetNumberedArg(1, uint32(7)))
	require.False(t, k.ArgumentsValid())
	e, err := k.Execute()
	require.Nil(t, e)
	require.Equal(t, CodeKernelArgumentInvalid, CodeOf(err))
	e, err = k.ExecuteAsync(nil)
	require.Nil(t, e)
	require.Error(t, err)

	// A fresh instance of the same entry point is independent.
	k2 := must.M1(device.NewKernelInstance("Fill"))
	require.True(t, k2.ArgumentsValid())
}

func TestKernelArgumentErrors(t *testing.T) {
	device := newTestDevice(t)
	buffers := device.Buffers()
	buf := must.M1(buffers.AllocBuffer(16))
	plane := must.M1(buffers.AllocPlane(4, 4))

	for _, tc := range []struct {
		name   string
		kernel string
		index  int
		value  any
		status Status
	}{
		{"index out of range", "Fill", 2, uint32(1), StatusInvalidArgIndex},
		{"negative index", "Fill", -1, uint32(1), StatusInvalidArgIndex},
		{"plane for buffer", "Fill", 0, plane, StatusInvalidMemObject},
		{"buffer for plane", "ScalePlane", 0, buf, StatusInvalidMemObject},
		{"unknown handle", "Fill", 0, Handle(99), StatusInvalidMemObject},
		{"scalar for memory", "Fill", 0, int64(1), StatusInvalidMemObject},
		{"float for uint", "Fill", 1, float32(1), StatusInvalidArgValue},
		{"int2 for int", "AddInt2", 2, Int2{1, 2}, StatusInvalidArgSize},
		{"int for float", "ScalePlane", 1, int32(1), StatusInvalidArgValue},
		{"unsupported type", "Fill", 1, "seven", StatusInvalidArgValue},
		{"nil", "Fill", 1, nil, StatusInvalidArgValue},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := must.M1(device.NewKernelInstance(tc.kernel))
			err := k.SetNumberedArg(tc.index, tc.value)
			require.Error(t, err)
			fmt.Printf("\t%s: %v\n", tc.name, err)
			assert.Equal(t, CodeKernelArgumentInvalid, CodeOf(err))
			assert.Equal(t, tc.status, StatusOf(err))
			assert.False(t, k.ArgumentsValid())
		})
	}
}

func TestKernelExecute(t *testing.T) {
	device := newTestDevice(t)
	buffers := device.Buffers()
	const n = 32
	out := must.M1(buffers.AllocBuffer(n * 4))

	k, err := device.Kernel("AddInt2")
	require.NoError(t, err)
	require.NoError(t, k.SetWorkDim(1))
	k.SetLocalWorkSize(8)
	k.SetScalarGlobalSize(n)
	k.SetScalarItemSize(1)
	require.NoError(t, k.SetArg(out))
	require.NoError(t, k.SetArg(Int2{X: 10, Y: 20}))

	// Missing argument.
	e, err := k.Execute()
	require.Nil(t, e)
	require.Equal(t, StatusInvalidKernelArgs, StatusOf(err))
	require.True(t, k.ArgumentsValid(), "a missing argument doesn't invalidate the instance")

	require.NoError(t, k.SetArg(int32(100)))
	first, err := k.Execute()
	require.NoError(t, err)

	// Re-binding after enqueueing doesn't change the enqueued dispatch: the second dispatch runs after it and
	// overwrites the result.
	require.NoError(t, k.SetNumberedArg(2, int32(1000)))
	second, err := k.ExecuteAsync(first)
	require.NoError(t, err)
	host := make([]byte, n*4)
	require.NoError(t, buffers.CopyFromBuffer(out, host))
	require.NoError(t, WaitForEvents(first, second))
	for ii := range n {
		require.Equal(t, uint32(1030+ii), binary.NativeEndian.Uint32(host[ii*4:]))
	}

	// Unknown kernel.
	_, err = device.Kernel("NoSuchKernel")
	require.Equal(t, StatusInvalidKernelName, StatusOf(err))
	_, err = device.NewKernelInstance("NoSuchKernel")
	require.Equal(t, CodeKernelCompilationFailed, CodeOf(err))
}

func TestKernelPlanes(t *testing.T) {
	device := newTestDevice(t)
	buffers := device.Buffers()
	const width, height = 7, 3
	src := must.M1(buffers.AllocPlane(width, height))
	dst := must.M1(buffers.AllocPlane(width, height))
	host := make([]byte, width*height)
	for ii := range host {
		host[ii] = byte(ii * 5)
	}
	require.NoError(t, buffers.CopyToPlane(src, host, width, height, width))

	k := must.M1(device.Kernel("ScalePlane"))
	require.NoError(t, k.SetWorkDim(2))
	k.SetLocalWorkSize(1, 1)
	k.SetScalarGlobalSize(width, height)
	k.SetScalarItemSize(PixelsPerUnit, 1)
	require.NoError(t, k.SetArg(src))
	require.NoError(t, k.SetArg(float32(2)))
	require.NoError(t, k.SetArg(dst))
	e, err := k.Execute()
	require.NoError(t, err)
	out := make([]byte, width*height)
	download, err := buffers.CopyFromPlaneAsync(dst, out, width, height, width, e)
	require.NoError(t, err)
	require.NoError(t, download.Await())
	for ii := range host {
		require.Equal(t, UNorm8(float32(host[ii])/255*2), out[ii], "pixel %d", ii)
	}

	if device.Driver() != SoftwareDriverName {
		return
	}
	// The software kernel requires work groups of 1x1.
	k.SetLocalWorkSize(2, 1)
	e, err = k.Execute()
	if err == nil {
		err = e.Await()
	}
	require.Error(t, err)
	require.Equal(t, StatusInvalidWorkGroupSize, StatusOf(err))
}
