package depthcam

import (
	"context"
	"io"
)

// StreamType identifies a device stream.
type StreamType int

const (
	StreamDepth StreamType = iota + 1
	StreamColor
)

func (s StreamType) String() string {
	switch s {
	case StreamDepth:
		return "depth"
	case StreamColor:
		return "color"
	default:
		return "unknown"
	}
}

// Format is the pixel layout of a device stream.
type Format int

const (
	FormatAny Format = iota
	// FormatZ16 is 16-bit linear depth in device units.
	FormatZ16
	FormatBGR8
	FormatRGB8
)

func (f Format) String() string {
	switch f {
	case FormatZ16:
		return "z16"
	case FormatBGR8:
		return "bgr8"
	case FormatRGB8:
		return "rgb8"
	default:
		return "any"
	}
}

// BytesPerPixel returns the sample size of the format, or 0 if unknown.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatZ16:
		return 2
	case FormatBGR8, FormatRGB8:
		return 3
	default:
		return 0
	}
}

// DeviceInfo describes a connected device.
type DeviceInfo struct {
	Name            string `json:"name"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	ProductLine     string `json:"product_line"`
}

// StreamRequest asks the pipeline for one stream.
type StreamRequest struct {
	Stream StreamType
	Width  int
	Height int
	Format Format
	FPS    int
}

// PipelineConfig selects what a pipeline streams.
//
// With PlaybackFile set the recording dictates the streams and Streams is
// normally empty. Otherwise only the listed streams are enabled.
type PipelineConfig struct {
	Streams      []StreamRequest
	PlaybackFile string
}

// Intrinsics are the pinhole parameters of a video stream profile.
type Intrinsics struct {
	Width  int
	Height int
	Fx, Fy float32
	Ppx    float32
	Ppy    float32
}

// StreamProfileInfo describes one negotiated stream.
type StreamProfileInfo struct {
	Stream     StreamType
	Format     Format
	FPS        int
	Intrinsics Intrinsics
}

// ActiveProfile is what a started pipeline actually streams.
type ActiveProfile struct {
	Device  DeviceInfo
	Streams []StreamProfileInfo

	// DepthScale converts one raw depth unit to meters, as reported by the
	// device's depth sensor.
	DepthScale float32
}

// Stream returns the profile for a stream type, if present.
func (p ActiveProfile) Stream(s StreamType) (StreamProfileInfo, bool) {
	for _, sp := range p.Streams {
		if sp.Stream == s {
			return sp, true
		}
	}
	return StreamProfileInfo{}, false
}

// RawFrame is a device-owned image buffer.
// Data is only valid until the next WaitForFrames call or Stop.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	// Stride is the row size in bytes; rows may be padded.
	Stride int
	Format Format
	Number int64
}

// FrameSet is one synchronized set of frames. A missing stream has nil Data.
type FrameSet struct {
	Depth RawFrame
	Color RawFrame
}

// Runtime is the vendor device-discovery and streaming capability.
type Runtime interface {
	// QueryDevices lists the connected devices.
	QueryDevices() ([]DeviceInfo, error)

	// NewPipeline creates an unstarted pipeline.
	NewPipeline() (Pipeline, error)

	io.Closer
}

// Pipeline streams synchronized frame sets from one device or recording.
type Pipeline interface {
	// Start configures and starts streaming.
	Start(cfg PipelineConfig) (ActiveProfile, error)

	// WaitForFrames blocks until the next frame set or ctx is done.
	// Buffers returned by the previous call are released.
	WaitForFrames(ctx context.Context) (FrameSet, error)

	// Stop halts streaming and releases all frames.
	Stop() error
}
