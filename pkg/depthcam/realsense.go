//go:build realsense

package depthcam

/*
#cgo pkg-config: realsense2
#include <stdlib.h>
#include <librealsense2/rs.h>
#include <librealsense2/h/rs_pipeline.h>
#include <librealsense2/h/rs_config.h>
#include <librealsense2/h/rs_frame.h>
#include <librealsense2/h/rs_sensor.h>
#include <librealsense2/h/rs_device.h>

static rs2_context* go_rs2_create_context(rs2_error** e) {
	return rs2_create_context(RS2_API_VERSION, e);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// pollInterval bounds each native wait so the context is checked regularly.
const pollInterval = 100 * time.Millisecond

// rsError converts and frees a librealsense error.
func rsError(e *C.rs2_error) error {
	if e == nil {
		return nil
	}
	defer C.rs2_free_error(e)
	return fmt.Errorf("%s: %s",
		C.GoString(C.rs2_get_failed_function(e)),
		C.GoString(C.rs2_get_error_message(e)))
}

type rsRuntime struct {
	mu  sync.Mutex
	ctx *C.rs2_context
}

// NewRealSenseRuntime creates a librealsense2 context.
func NewRealSenseRuntime() (Runtime, error) {
	var e *C.rs2_error
	ctx := C.go_rs2_create_context(&e)
	if err := rsError(e); err != nil {
		return nil, &DeviceError{Op: "create context", Err: err}
	}
	return &rsRuntime{ctx: ctx}, nil
}

func (r *rsRuntime) QueryDevices() ([]DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var e *C.rs2_error
	list := C.rs2_query_devices(r.ctx, &e)
	if err := rsError(e); err != nil {
		return nil, err
	}
	defer C.rs2_delete_device_list(list)

	count := int(C.rs2_get_device_count(list, &e))
	if err := rsError(e); err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		dev := C.rs2_create_device(list, C.int(i), &e)
		if err := rsError(e); err != nil {
			return nil, err
		}
		devices = append(devices, deviceInfo(dev))
		C.rs2_delete_device(dev)
	}
	return devices, nil
}

func deviceInfo(dev *C.rs2_device) DeviceInfo {
	info := func(field C.rs2_camera_info) string {
		var e *C.rs2_error
		ok := C.rs2_supports_device_info(dev, field, &e)
		if rsError(e) != nil || ok == 0 {
			return ""
		}
		s := C.rs2_get_device_info(dev, field, &e)
		if rsError(e) != nil {
			return ""
		}
		return C.GoString(s)
	}
	return DeviceInfo{
		Name:            info(C.RS2_CAMERA_INFO_NAME),
		SerialNumber:    info(C.RS2_CAMERA_INFO_SERIAL_NUMBER),
		FirmwareVersion: info(C.RS2_CAMERA_INFO_FIRMWARE_VERSION),
		ProductLine:     info(C.RS2_CAMERA_INFO_PRODUCT_LINE),
	}
}

func (r *rsRuntime) NewPipeline() (Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var e *C.rs2_error
	p := C.rs2_create_pipeline(r.ctx, &e)
	if err := rsError(e); err != nil {
		return nil, err
	}
	return &rsPipeline{pipe: p}, nil
}

func (r *rsRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		C.rs2_delete_context(r.ctx)
		r.ctx = nil
	}
	return nil
}

type rsPipeline struct {
	mu      sync.Mutex
	pipe    *C.rs2_pipeline
	profile *C.rs2_pipeline_profile
	held    []*C.rs2_frame
}

func toRSStream(s StreamType) C.rs2_stream {
	if s == StreamColor {
		return C.RS2_STREAM_COLOR
	}
	return C.RS2_STREAM_DEPTH
}

func toRSFormat(f Format) C.rs2_format {
	switch f {
	case FormatZ16:
		return C.RS2_FORMAT_Z16
	case FormatBGR8:
		return C.RS2_FORMAT_BGR8
	case FormatRGB8:
		return C.RS2_FORMAT_RGB8
	default:
		return C.RS2_FORMAT_ANY
	}
}

func fromRSFormat(f C.rs2_format) Format {
	switch f {
	case C.RS2_FORMAT_Z16:
		return FormatZ16
	case C.RS2_FORMAT_BGR8:
		return FormatBGR8
	case C.RS2_FORMAT_RGB8:
		return FormatRGB8
	default:
		return FormatAny
	}
}

func fromRSStream(s C.rs2_stream) StreamType {
	switch s {
	case C.RS2_STREAM_DEPTH:
		return StreamDepth
	case C.RS2_STREAM_COLOR:
		return StreamColor
	default:
		return 0
	}
}

func (p *rsPipeline) Start(cfg PipelineConfig) (ActiveProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var e *C.rs2_error
	config := C.rs2_create_config(&e)
	if err := rsError(e); err != nil {
		return ActiveProfile{}, err
	}
	defer C.rs2_delete_config(config)

	C.rs2_config_disable_all_streams(config, &e)
	if err := rsError(e); err != nil {
		return ActiveProfile{}, err
	}

	if cfg.PlaybackFile != "" {
		file := C.CString(cfg.PlaybackFile)
		defer C.free(unsafe.Pointer(file))
		C.rs2_config_enable_device_from_file(config, file, &e)
		if err := rsError(e); err != nil {
			return ActiveProfile{}, err
		}
	}
	for _, req := range cfg.Streams {
		C.rs2_config_enable_stream(config, toRSStream(req.Stream), -1,
			C.int(req.Width), C.int(req.Height), toRSFormat(req.Format), C.int(req.FPS), &e)
		if err := rsError(e); err != nil {
			return ActiveProfile{}, err
		}
	}

	profile := C.rs2_pipeline_start_with_config(p.pipe, config, &e)
	if err := rsError(e); err != nil {
		return ActiveProfile{}, err
	}
	p.profile = profile

	active, err := p.describe()
	if err != nil {
		p.stopLocked()
		return ActiveProfile{}, err
	}
	return active, nil
}

// describe reads the negotiated streams and the depth sensor scale.
func (p *rsPipeline) describe() (ActiveProfile, error) {
	var e *C.rs2_error
	var active ActiveProfile

	list := C.rs2_pipeline_profile_get_streams(p.profile, &e)
	if err := rsError(e); err != nil {
		return active, err
	}
	defer C.rs2_delete_stream_profiles_list(list)

	count := int(C.rs2_get_stream_profiles_count(list, &e))
	if err := rsError(e); err != nil {
		return active, err
	}
	for i := 0; i < count; i++ {
		sp := C.rs2_get_stream_profile(list, C.int(i), &e)
		if err := rsError(e); err != nil {
			return active, err
		}
		var stream C.rs2_stream
		var format C.rs2_format
		var index, uid, fps C.int
		C.rs2_get_stream_profile_data(sp, &stream, &format, &index, &uid, &fps, &e)
		if err := rsError(e); err != nil {
			return active, err
		}
		st := fromRSStream(stream)
		if st == 0 {
			continue
		}
		var in C.rs2_intrinsics
		C.rs2_get_video_stream_intrinsics(sp, &in, &e)
		if err := rsError(e); err != nil {
			return active, err
		}
		active.Streams = append(active.Streams, StreamProfileInfo{
			Stream: st,
			Format: fromRSFormat(format),
			FPS:    int(fps),
			Intrinsics: Intrinsics{
				Width:  int(in.width),
				Height: int(in.height),
				Fx:     float32(in.fx),
				Fy:     float32(in.fy),
				Ppx:    float32(in.ppx),
				Ppy:    float32(in.ppy),
			},
		})
	}

	dev := C.rs2_pipeline_profile_get_device(p.profile, &e)
	if err := rsError(e); err != nil {
		return active, err
	}
	defer C.rs2_delete_device(dev)
	active.Device = deviceInfo(dev)

	scale, err := depthScale(dev)
	if err != nil {
		return active, err
	}
	active.DepthScale = scale
	return active, nil
}

// depthScale returns the scale of the first sensor that is a depth sensor.
func depthScale(dev *C.rs2_device) (float32, error) {
	var e *C.rs2_error
	sensors := C.rs2_query_sensors(dev, &e)
	if err := rsError(e); err != nil {
		return 0, err
	}
	defer C.rs2_delete_sensor_list(sensors)

	count := int(C.rs2_get_sensors_count(sensors, &e))
	if err := rsError(e); err != nil {
		return 0, err
	}
	for i := 0; i < count; i++ {
		s := C.rs2_create_sensor(sensors, C.int(i), &e)
		if err := rsError(e); err != nil {
			return 0, err
		}
		isDepth := C.rs2_is_sensor_extendable_to(s, C.RS2_EXTENSION_DEPTH_SENSOR, &e)
		if err := rsError(e); err != nil {
			C.rs2_delete_sensor(s)
			return 0, err
		}
		if isDepth != 0 {
			scale := C.rs2_get_depth_scale(s, &e)
			C.rs2_delete_sensor(s)
			if err := rsError(e); err != nil {
				return 0, err
			}
			return float32(scale), nil
		}
		C.rs2_delete_sensor(s)
	}
	return 0, errors.New("device has no depth sensor")
}

func (p *rsPipeline) releaseHeld() {
	for _, f := range p.held {
		C.rs2_release_frame(f)
	}
	p.held = p.held[:0]
}

func (p *rsPipeline) WaitForFrames(ctx context.Context) (FrameSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.profile == nil {
		return FrameSet{}, errors.New("pipeline not started")
	}
	p.releaseHeld()

	var composite *C.rs2_frame
	for {
		if err := ctx.Err(); err != nil {
			return FrameSet{}, err
		}
		var e *C.rs2_error
		ok := C.rs2_pipeline_try_wait_for_frames(p.pipe, &composite, C.uint(pollInterval.Milliseconds()), &e)
		if err := rsError(e); err != nil {
			return FrameSet{}, err
		}
		if ok != 0 {
			break
		}
	}
	defer C.rs2_release_frame(composite)

	var e *C.rs2_error
	count := int(C.rs2_embedded_frames_count(composite, &e))
	if err := rsError(e); err != nil {
		return FrameSet{}, err
	}

	var fs FrameSet
	for i := 0; i < count; i++ {
		f := C.rs2_extract_frame(composite, C.int(i), &e)
		if err := rsError(e); err != nil {
			return FrameSet{}, err
		}
		p.held = append(p.held, f)

		raw, stream, err := rawFrame(f)
		if err != nil {
			return FrameSet{}, err
		}
		switch stream {
		case StreamDepth:
			fs.Depth = raw
		case StreamColor:
			fs.Color = raw
		}
	}
	return fs, nil
}

// rawFrame aliases the frame buffer; it stays valid while f is held.
func rawFrame(f *C.rs2_frame) (RawFrame, StreamType, error) {
	var e *C.rs2_error
	sp := C.rs2_get_frame_stream_profile(f, &e)
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}
	var stream C.rs2_stream
	var format C.rs2_format
	var index, uid, fps C.int
	C.rs2_get_stream_profile_data(sp, &stream, &format, &index, &uid, &fps, &e)
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}

	width := int(C.rs2_get_frame_width(f, &e))
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}
	height := int(C.rs2_get_frame_height(f, &e))
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}
	stride := int(C.rs2_get_frame_stride_in_bytes(f, &e))
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}
	number := int64(C.rs2_get_frame_number(f, &e))
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}
	data := C.rs2_get_frame_data(f, &e)
	if err := rsError(e); err != nil {
		return RawFrame{}, 0, err
	}

	return RawFrame{
		Data:   unsafe.Slice((*byte)(data), stride*height),
		Width:  width,
		Height: height,
		Stride: stride,
		Format: fromRSFormat(format),
		Number: number,
	}, fromRSStream(stream), nil
}

func (p *rsPipeline) stopLocked() error {
	p.releaseHeld()
	if p.profile == nil {
		return nil
	}
	var e *C.rs2_error
	C.rs2_pipeline_stop(p.pipe, &e)
	C.rs2_delete_pipeline_profile(p.profile)
	p.profile = nil
	return rsError(e)
}

func (p *rsPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.stopLocked()
	if p.pipe != nil {
		C.rs2_delete_pipeline(p.pipe)
		p.pipe = nil
	}
	return err
}
