package depthcam

import (
	"errors"
	"fmt"
)

// Sentinel errors for construction and acquisition failures.
var (
	// ErrConfiguration is returned when a dataset or its parameter file is
	// missing, unreadable or malformed.
	ErrConfiguration = errors.New("depthcam: invalid configuration")

	// ErrDeviceNotFound is returned when no live device is connected.
	ErrDeviceNotFound = errors.New("depthcam: no device detected")

	// ErrDeviceInitialization is returned when the pipeline cannot be started
	// or the negotiated streams are unusable.
	ErrDeviceInitialization = errors.New("depthcam: device initialization failed")

	// ErrBackendUnavailable is returned for backends not compiled into this binary.
	ErrBackendUnavailable = errors.New("depthcam: backend unavailable")

	// ErrCorruptFrame is returned when an image exists but cannot be decoded
	// or does not match the camera parameters.
	ErrCorruptFrame = errors.New("depthcam: corrupt frame")

	// ErrMissingColor is returned when a replay depth image has no matching color image.
	ErrMissingColor = errors.New("depthcam: missing color image")

	// ErrIncompleteFrameSet is returned when a device delivers a frame set
	// without both depth and color.
	ErrIncompleteFrameSet = errors.New("depthcam: incomplete frame set")

	// ErrFrameTimeout is returned when GrabTimeout elapses before a frame arrives.
	ErrFrameTimeout = errors.New("depthcam: timed out waiting for frame")

	// ErrClosed is returned when grabbing from a closed camera.
	ErrClosed = errors.New("depthcam: camera closed")
)

// ConfigError reports a configuration failure for a path.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrConfiguration, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Path, e.Err)
}

// Unwrap exposes both ErrConfiguration and the cause.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// DeviceError reports a device or pipeline failure during an operation.
type DeviceError struct {
	// Op names the failing step, e.g. "start pipeline".
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrDeviceInitialization, e.Op, e.Err)
}

// Unwrap exposes both ErrDeviceInitialization and the cause.
func (e *DeviceError) Unwrap() []error {
	return []error{ErrDeviceInitialization, e.Err}
}

// FrameError reports a per-frame acquisition failure.
type FrameError struct {
	Index int64
	Path  string // empty for live sources
	Err   error
}

func (e *FrameError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("depthcam: frame %d (%s): %v", e.Index, e.Path, e.Err)
	}
	return fmt.Sprintf("depthcam: frame %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether calling GrabFrame again may succeed.
// Dropped or late hardware frames are retryable; corrupt files, closed
// cameras and cancelled contexts are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIncompleteFrameSet) || errors.Is(err, ErrFrameTimeout)
}
