package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceNotFoundMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *ResourceNotFoundError
		want string
	}{
		{
			name: "index",
			err:  &ResourceNotFoundError{Resource: "platform", Selector: "3", Err: ErrIndexOutOfRange},
			want: "given index of platform (3) is out of range of available platforms",
		},
		{
			name: "substring with filter",
			err:  &ResourceNotFoundError{Resource: "device", Selector: "Radeon", TypeFilter: "gpu", Err: ErrNoMatch},
			want: `there is no found device with name containing "Radeon" as a substring (among devices of type gpu)`,
		},
		{
			name: "all filter has no suffix",
			err:  &ResourceNotFoundError{Resource: "device", Selector: "Radeon", TypeFilter: "all", Err: ErrNoMatch},
			want: `there is no found device with name containing "Radeon" as a substring`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestResourceNotFoundUnwrap(t *testing.T) {
	err := fmt.Errorf("select: %w", &ResourceNotFoundError{Resource: "device", Selector: "9", Err: ErrIndexOutOfRange})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, "resource not found", Classify(err))
}

func TestDriverErrorRecordsCaller(t *testing.T) {
	err := CL("clCreateContext", CLInvalidDevice)

	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "OpenCL", de.API)
	assert.Equal(t, "CL_INVALID_DEVICE", de.Name)
	assert.Equal(t, "errs_test.go", de.File)
	assert.Positive(t, de.Line)
	assert.Contains(t, err.Error(), "CL_INVALID_DEVICE (-33) happened for the following expression: clCreateContext")
}

func TestIsCLCode(t *testing.T) {
	err := fmt.Errorf("frame: %w", CL("clEnqueueAcquireGLObjects", CLInvalidGLObject))
	assert.True(t, IsCLCode(err, CLInvalidGLObject))
	assert.False(t, IsCLCode(err, CLInvalidValue))
	assert.False(t, IsCLCode(GL("glBindTexture", 0x0502), 0x0502))
}

func TestCodeNames(t *testing.T) {
	assert.Equal(t, "CL_BUILD_PROGRAM_FAILURE", CLCodeName(CLBuildProgramFailure))
	assert.Equal(t, "CL_UNKNOWN_ERROR(-9999)", CLCodeName(-9999))
	assert.Equal(t, "GL_INVALID_OPERATION", GLCodeName(0x0502))
	assert.Equal(t, "GL_UNKNOWN_ERROR(0x0001)", GLCodeName(1))
}

func TestBuildErrorLog(t *testing.T) {
	single := &BuildError{Logs: []DeviceLog{{Device: "GPU", Log: "line 3: error"}}}
	assert.Equal(t, "line 3: error", single.Log())
	assert.True(t, strings.HasSuffix(single.Error(), "Build log:\nline 3: error"))

	multi := &BuildError{Logs: []DeviceLog{{Device: "A", Log: "a"}, {Device: "B", Log: "b"}}}
	assert.Equal(t, "[A]\na\n[B]\nb", multi.Log())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Configuration("mode", "unknown %q", "x"), "configuration"},
		{&ResourceNotFoundError{Resource: "platform", Err: ErrNoMatch}, "resource not found"},
		{GL("glTexImage2D", 0x0505), "driver"},
		{fmt.Errorf("build: %w", &BuildError{}), "build"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}

func TestConfigurationMessage(t *testing.T) {
	assert.Equal(t, "configuration error: width: must be positive", Configuration("width", "must be positive").Error())
	assert.Equal(t, "configuration error: bad", (&ConfigurationError{Reason: "bad"}).Error())
}

func TestZeroCopyDegradation(t *testing.T) {
	err := &ZeroCopyDegradation{Ptr: 0x1001, Size: 100}
	assert.Contains(t, err.Error(), "ptr=0x1001 size=100")
}
