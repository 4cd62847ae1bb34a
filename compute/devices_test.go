package compute

import (
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestContext(t *testing.T) {
	ctx := newTestContext(t, nil)
	require.Equal(t, *flagDriver, ctx.Driver())
	require.GreaterOrEqual(t, ctx.NumDevices(), 1)
	for _, d := range ctx.Devices() {
		fmt.Printf("\t%s\n", d)
	}
	_, err := ctx.Device(ctx.NumDevices())
	require.Equal(t, CodeDeviceUnavailable, CodeOf(err))
	_, err = ctx.Device(-1)
	require.Equal(t, CodeDeviceUnavailable, CodeOf(err))

	_, err = NewContext("no-such-driver", nil)
	require.Equal(t, CodeDeviceUnavailable, CodeOf(err))
	require.ErrorContains(t, err, "software")
}

func TestContextNoDevices(t *testing.T) {
	RegisterDriver("empty", func(Options) ([]Backend, error) { return nil, nil })
	_, err := NewContext("empty", nil)
	require.Equal(t, CodeDeviceUnavailable, CodeOf(err))
	require.Equal(t, StatusDeviceNotFound, StatusOf(err))
	require.Contains(t, Drivers(), "empty")
	require.Contains(t, Drivers(), SoftwareDriverName)
}

func TestSoftwareDevices(t *testing.T) {
	ctx, err := NewContext(SoftwareDriverName, Options{OptionDevices: 2, OptionWorkers: 3})
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Destroy()) }()
	require.Equal(t, 2, ctx.NumDevices())

	// Devices are independent: each has its own registry.
	d0, d1 := must.M1(ctx.Device(0)), must.M1(ctx.Device(1))
	require.Equal(t, Handle(1), must.M1(d0.Buffers().AllocBuffer(4)))
	require.Equal(t, Handle(1), must.M1(d1.Buffers().AllocBuffer(4)))

	_, err = NewContext(SoftwareDriverName, Options{OptionWorkers: "many"})
	require.Error(t, err)
}

func TestCompile(t *testing.T) {
	ctx, err := NewContext(*flagDriver, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Destroy()) }()
	device := must.M1(ctx.Device(0))

	// Missing define.
	err = ctx.Compile(testProgram, nil, testEntryPoints...)
	require.Equal(t, CodeKernelCompilationFailed, CodeOf(err))
	require.Equal(t, StatusBuildProgramFailure, StatusOf(err))

	// Unknown entry point aborts the whole batch.
	err = ctx.Compile(testProgram, Defines{"SCALE": 2}, "Fill", "Missing")
	require.Equal(t, CodeKernelCompilationFailed, CodeOf(err))
	require.Equal(t, StatusInvalidKernelName, StatusOf(err))
	_, err = device.Kernel("Fill")
	require.Error(t, err, "no kernel should be available after a failed compilation")
	_, err = device.NewKernelInstance("Fill")
	require.Error(t, err)

	require.NoError(t, ctx.Compile(testProgram, Defines{"SCALE": 2}, testEntryPoints...))
	shared := must.M1(device.Kernel("Fill"))
	require.Same(t, shared, must.M1(device.Kernel("Fill")))
	require.NotSame(t, shared, must.M1(device.NewKernelInstance("Fill")))
	require.NoError(t, device.Finish())
}

func TestDefinesBuildOptions(t *testing.T) {
	require.Equal(t, "-D ALPHASIZE=16 -D BETA=-1", Defines{"BETA": -1, "ALPHASIZE": 16}.BuildOptions())
	require.Equal(t, "", Defines{}.BuildOptions())
}
