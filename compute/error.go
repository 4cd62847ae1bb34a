package compute

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies the failures reported by this package and by the filters built on top of it.
type Code int

const (
	// CodeOK is returned by CodeOf for a nil error.
	CodeOK Code = iota

	// CodeUnknown is returned by CodeOf for errors that don't carry a Code.
	CodeUnknown

	CodeDeviceUnavailable
	CodeBufferAllocationFailed
	CodePlaneAllocationFailed
	CodeKernelCompilationFailed
	CodeKernelArgumentInvalid
	CodeMultiFrameInitializationFailed
	CodeInvalidParameter
	CodeExecutionFailed
	CodeCopyFailed
)

var codeNames = map[Code]string{
	CodeOK:                             "ok",
	CodeUnknown:                        "unknown error",
	CodeDeviceUnavailable:              "device unavailable",
	CodeBufferAllocationFailed:         "buffer allocation failed",
	CodePlaneAllocationFailed:          "plane allocation failed",
	CodeKernelCompilationFailed:        "kernel compilation failed",
	CodeKernelArgumentInvalid:          "kernel argument invalid",
	CodeMultiFrameInitializationFailed: "multi-frame initialization failed",
	CodeInvalidParameter:               "invalid parameter",
	CodeExecutionFailed:                "execution failed",
	CodeCopyFailed:                     "copy failed",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, found := codeNames[c]; found {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Status is a backend status code. The values are numerically the same as the OpenCL status codes, so
// the opencl driver reports them unchanged, and the software driver reports the closest equivalent.
type Status int32

const (
	StatusSuccess                    Status = 0
	StatusDeviceNotFound             Status = -1
	StatusDeviceNotAvailable         Status = -2
	StatusCompilerNotAvailable       Status = -3
	StatusMemObjectAllocationFailure Status = -4
	StatusOutOfResources             Status = -5
	StatusOutOfHostMemory            Status = -6
	StatusBuildProgramFailure        Status = -11
	StatusInvalidValue               Status = -30
	StatusInvalidDevice              Status = -33
	StatusInvalidContext             Status = -34
	StatusInvalidCommandQueue        Status = -36
	StatusInvalidMemObject           Status = -38
	StatusInvalidImageSize           Status = -40
	StatusInvalidProgram             Status = -44
	StatusInvalidProgramExecutable   Status = -45
	StatusInvalidKernelName          Status = -46
	StatusInvalidKernel              Status = -48
	StatusInvalidArgIndex            Status = -49
	StatusInvalidArgValue            Status = -50
	StatusInvalidArgSize             Status = -51
	StatusInvalidKernelArgs          Status = -52
	StatusInvalidWorkDimension       Status = -53
	StatusInvalidWorkGroupSize       Status = -54
	StatusInvalidEventWaitList       Status = -57
	StatusInvalidOperation           Status = -59
	StatusInvalidBufferSize          Status = -61
	StatusInvalidGlobalWorkSize      Status = -63
)

var statusNames = map[Status]string{
	StatusSuccess:                    "success",
	StatusDeviceNotFound:             "device not found",
	StatusDeviceNotAvailable:         "device not available",
	StatusCompilerNotAvailable:       "compiler not available",
	StatusMemObjectAllocationFailure: "mem object allocation failure",
	StatusOutOfResources:             "out of resources",
	StatusOutOfHostMemory:            "out of host memory",
	StatusBuildProgramFailure:        "build program failure",
	StatusInvalidValue:               "invalid value",
	StatusInvalidDevice:              "invalid device",
	StatusInvalidContext:             "invalid context",
	StatusInvalidCommandQueue:        "invalid command queue",
	StatusInvalidMemObject:           "invalid mem object",
	StatusInvalidImageSize:           "invalid image size",
	StatusInvalidProgram:             "invalid program",
	StatusInvalidProgramExecutable:   "invalid program executable",
	StatusInvalidKernelName:          "invalid kernel name",
	StatusInvalidKernel:              "invalid kernel",
	StatusInvalidArgIndex:            "invalid arg index",
	StatusInvalidArgValue:            "invalid arg value",
	StatusInvalidArgSize:             "invalid arg size",
	StatusInvalidKernelArgs:          "invalid kernel args",
	StatusInvalidWorkDimension:       "invalid work dimension",
	StatusInvalidWorkGroupSize:       "invalid work group size",
	StatusInvalidEventWaitList:       "invalid event wait list",
	StatusInvalidOperation:           "invalid operation",
	StatusInvalidBufferSize:          "invalid buffer size",
	StatusInvalidGlobalWorkSize:      "invalid global work size",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if name, found := statusNames[s]; found {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// BackendError is an error reported by a driver backend, with its status code.
type BackendError struct {
	Status  Status
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error %q (status=%d): %s", e.Status, int32(e.Status), e.Message)
}

// backendErrorf creates a *BackendError with a stack trace.
func backendErrorf(status Status, format string, args ...any) error {
	return errors.WithStack(&BackendError{Status: status, Message: fmt.Sprintf(format, args...)})
}

// Error is the error returned by the operations of this package: it carries the Code of the failed
// operation and, if the failure came from the backend, its Status.
//
// Use CodeOf and StatusOf to extract them from a (possibly wrapped) error.
type Error struct {
	Code   Code
	Status Status
	msg    string
	cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
}

// Unwrap returns the backend error that caused this error, if any.
func (e *Error) Unwrap() error { return e.cause }

// newError creates an *Error with the given code, wrapping cause (which can be nil), with a stack trace.
// The Status is taken from the cause.
func newError(code Code, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{
		Code:   code,
		Status: StatusOf(cause),
		msg:    fmt.Sprintf(format, args...),
		cause:  cause,
	})
}

// Errorf creates an error with the given Code and no backend cause.
// It is used by the packages built on top of compute to report their failures within the same taxonomy.
func Errorf(code Code, format string, args ...any) error {
	return newError(code, nil, format, args...)
}

// WrapError creates an error with the given Code wrapping cause, keeping the Status of cause.
// If cause is nil, it returns nil.
func WrapError(code Code, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return newError(code, cause, format, args...)
}

// CodeOf returns the Code of the outermost *Error in err's chain.
// It returns CodeOK if err is nil, and CodeUnknown if err carries no Code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// StatusOf returns the backend Status carried by err, or StatusSuccess if there is none.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) && e.Status != StatusSuccess {
		return e.Status
	}
	var b *BackendError
	if errors.As(err, &b) {
		return b.Status
	}
	return StatusSuccess
}
