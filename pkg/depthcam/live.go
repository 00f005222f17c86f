package depthcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LiveOptions configures a LiveDepthCamera.
type LiveOptions struct {
	// Name is reported by Name(); defaults to "realsense".
	Name string

	// PlaybackFile replays a recorded device file instead of live hardware.
	PlaybackFile string

	// Stream is requested for both depth and color in live-device mode.
	Stream StreamProfile

	// GrabTimeout bounds each GrabFrame wait; zero means unbounded.
	GrabTimeout time.Duration
}

// LiveDepthCamera drives a vendor streaming pipeline and converts its raw
// buffers to millimeter depth and BGR color.
type LiveDepthCamera struct {
	id         string
	name       string
	runtime    Runtime
	pipeline   Pipeline
	params     CameraParameters
	depthScale float32
	device     DeviceInfo
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewLiveDepthCamera starts a pipeline on rt and captures its intrinsics and
// depth scale. On success the camera owns rt and closes it on Close; on
// failure rt is left open for the caller.
//
// In live-device mode it fails with ErrDeviceNotFound before creating any
// pipeline when no device is connected. Pipeline failures are *DeviceError.
func NewLiveDepthCamera(rt Runtime, opts LiveOptions, logger *slog.Logger) (*LiveDepthCamera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = string(BackendRealSense)
	}

	var cfg PipelineConfig
	if opts.PlaybackFile != "" {
		if _, err := os.Stat(opts.PlaybackFile); err != nil {
			return nil, &DeviceError{Op: "open recording", Err: err}
		}
		cfg.PlaybackFile = opts.PlaybackFile
	} else {
		devices, err := rt.QueryDevices()
		if err != nil {
			return nil, &DeviceError{Op: "query devices", Err: err}
		}
		if len(devices) == 0 {
			return nil, ErrDeviceNotFound
		}
		logDevice(logger, devices[0])
		cfg.Streams = liveStreamRequests(opts.Stream)
	}

	pipeline, err := rt.NewPipeline()
	if err != nil {
		return nil, &DeviceError{Op: "create pipeline", Err: err}
	}

	profile, err := pipeline.Start(cfg)
	if err != nil {
		pipeline.Stop()
		return nil, &DeviceError{Op: "start pipeline", Err: err}
	}

	params, err := parametersFromProfile(profile)
	if err != nil {
		pipeline.Stop()
		return nil, &DeviceError{Op: "read stream profile", Err: err}
	}
	if profile.DepthScale <= 0 {
		pipeline.Stop()
		return nil, &DeviceError{Op: "read depth scale", Err: fmt.Errorf("depth scale must be positive, got %v", profile.DepthScale)}
	}

	c := &LiveDepthCamera{
		id:         uuid.New().String(),
		name:       opts.Name,
		runtime:    rt,
		pipeline:   pipeline,
		params:     params,
		depthScale: profile.DepthScale,
		device:     profile.Device,
		timeout:    opts.GrabTimeout,
		logger:     logger,
	}

	logger.Info("live depth camera started",
		"id", c.id,
		"backend", c.name,
		"playback", opts.PlaybackFile,
		"width", params.ImageWidth,
		"height", params.ImageHeight,
		"fx", params.FocalX,
		"fy", params.FocalY,
		"depth_scale", c.depthScale,
	)

	return c, nil
}

// liveStreamRequests asks for color BGR8 and depth Z16 at one resolution.
func liveStreamRequests(p StreamProfile) []StreamRequest {
	return []StreamRequest{
		{Stream: StreamColor, Width: p.Width, Height: p.Height, Format: FormatBGR8, FPS: p.FPS},
		{Stream: StreamDepth, Width: p.Width, Height: p.Height, Format: FormatZ16, FPS: p.FPS},
	}
}

func parametersFromProfile(profile ActiveProfile) (CameraParameters, error) {
	depth, ok := profile.Stream(StreamDepth)
	if !ok {
		return CameraParameters{}, errors.New("no depth stream")
	}
	if depth.Format != FormatZ16 {
		return CameraParameters{}, fmt.Errorf("depth stream format %s, want z16", depth.Format)
	}

	color, ok := profile.Stream(StreamColor)
	if !ok {
		return CameraParameters{}, errors.New("no color stream")
	}
	if color.Format.BytesPerPixel() != 3 {
		return CameraParameters{}, fmt.Errorf("color stream format %s, want bgr8 or rgb8", color.Format)
	}

	in := depth.Intrinsics
	if color.Intrinsics.Width != in.Width || color.Intrinsics.Height != in.Height {
		return CameraParameters{}, fmt.Errorf("color stream is %dx%d, depth is %dx%d",
			color.Intrinsics.Width, color.Intrinsics.Height, in.Width, in.Height)
	}

	params := CameraParameters{
		ImageWidth:  in.Width,
		ImageHeight: in.Height,
		FocalX:      in.Fx,
		FocalY:      in.Fy,
		PrincipalX:  in.Ppx,
		PrincipalY:  in.Ppy,
	}
	if !params.Valid() {
		return CameraParameters{}, fmt.Errorf("invalid depth intrinsics: %+v", in)
	}
	return params, nil
}

func logDevice(logger *slog.Logger, d DeviceInfo) {
	unsupported := func(s string) string {
		if s == "" {
			return "Not supported"
		}
		return s
	}
	logger.Info("using depth device",
		"name", unsupported(d.Name),
		"serial_number", unsupported(d.SerialNumber),
		"firmware_version", unsupported(d.FirmwareVersion),
		"product_line", unsupported(d.ProductLine),
	)
}

// GrabFrame waits for the next synchronized frame set and copies it into
// caller-owned Mats. Depth samples are raw * DepthScale() * 1000.
//
// Without a GrabTimeout the wait is bounded only by ctx.
func (c *LiveDepthCamera) GrabFrame(ctx context.Context) (InputFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return InputFrame{}, ErrClosed
	}

	waitCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fs, err := c.pipeline.WaitForFrames(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return InputFrame{}, fmt.Errorf("%w after %v", ErrFrameTimeout, c.timeout)
		}
		return InputFrame{}, err
	}

	w, h := c.params.ImageWidth, c.params.ImageHeight

	depth, err := DepthToMillimeters(fs.Depth, w, h, c.depthScale)
	if err != nil {
		return InputFrame{}, &FrameError{Index: fs.Depth.Number, Err: err}
	}

	color, err := ColorToBGR(fs.Color, w, h)
	if err != nil {
		depth.Close()
		return InputFrame{}, &FrameError{Index: fs.Depth.Number, Err: err}
	}

	return InputFrame{
		DepthMap:  depth,
		ColorMap:  color,
		Index:     fs.Depth.Number,
		Timestamp: time.Now(),
	}, nil
}

// Parameters returns the depth stream intrinsics.
func (c *LiveDepthCamera) Parameters() CameraParameters {
	return c.params
}

// DepthScale returns the device depth unit in meters.
func (c *LiveDepthCamera) DepthScale() float32 {
	return c.depthScale
}

// Device returns the device reported by the active profile.
func (c *LiveDepthCamera) Device() DeviceInfo {
	return c.device
}

// ID returns the session id assigned at construction.
func (c *LiveDepthCamera) ID() string {
	return c.id
}

// Name returns the backend name.
func (c *LiveDepthCamera) Name() string {
	return c.name
}

// Close stops the pipeline and releases the runtime.
func (c *LiveDepthCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	stopErr := c.pipeline.Stop()
	closeErr := c.runtime.Close()
	c.logger.Info("live depth camera stopped", "id", c.id)
	return errors.Join(stopErr, closeErr)
}

// Ensure LiveDepthCamera implements Camera.
var _ Camera = (*LiveDepthCamera)(nil)
