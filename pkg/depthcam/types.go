package depthcam

import (
	"context"
	"io"
	"time"

	"gocv.io/x/gocv"
)

// CameraParameters holds the pinhole intrinsics of an acquisition source.
// All values are in pixels.
type CameraParameters struct {
	ImageWidth  int     `json:"image_width"`
	ImageHeight int     `json:"image_height"`
	FocalX      float32 `json:"focal_x"`
	FocalY      float32 `json:"focal_y"`
	PrincipalX  float32 `json:"principal_x"`
	PrincipalY  float32 `json:"principal_y"`
}

// Valid reports whether the resolution and focal lengths are positive.
func (p CameraParameters) Valid() bool {
	return p.ImageWidth > 0 && p.ImageHeight > 0 && p.FocalX > 0 && p.FocalY > 0
}

// InputFrame is one synchronized depth+color sample pair.
//
// DepthMap is CV_32FC1 in millimeters, ColorMap is CV_8UC3 in BGR order.
// Both Mats are owned by the caller and never alias camera or device memory.
// The caller must Close the frame when done with it.
type InputFrame struct {
	DepthMap gocv.Mat
	ColorMap gocv.Mat

	// Index is the dataset index for replay sources and the device frame
	// number for live sources.
	Index int64

	Timestamp time.Time
}

// Width returns the width of the depth map.
func (f *InputFrame) Width() int {
	return f.DepthMap.Cols()
}

// Height returns the height of the depth map.
func (f *InputFrame) Height() int {
	return f.DepthMap.Rows()
}

// Clone returns a deep copy of the frame.
func (f *InputFrame) Clone() InputFrame {
	return InputFrame{
		DepthMap:  f.DepthMap.Clone(),
		ColorMap:  f.ColorMap.Clone(),
		Index:     f.Index,
		Timestamp: f.Timestamp,
	}
}

// Close releases both Mats. It is safe to call Close more than once.
func (f *InputFrame) Close() error {
	// gocv.Mat.Close nils its handle, so a second Close is a no-op.
	f.DepthMap.Close()
	f.ColorMap.Close()
	return nil
}

// Camera is a source of depth+color frames.
//
// Implementations serialise calls internally, but the contract is one caller
// at a time: GrabFrame advances acquisition state.
type Camera interface {
	// GrabFrame blocks until the next frame pair is available.
	// Replay sources loop back to the first frame when the dataset is
	// exhausted, so GrabFrame never reports end of stream.
	GrabFrame(ctx context.Context) (InputFrame, error)

	// Parameters returns the intrinsics fixed at construction time.
	Parameters() CameraParameters

	// Name returns the backend name (e.g., "pseudo", "realsense", "mock").
	Name() string

	// Close releases the underlying files or device pipeline.
	io.Closer
}
