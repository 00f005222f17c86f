package depthcam

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Dataset file names.
const (
	ParamsFileName    = "seq_cparam.txt"
	DepthFilePrefix   = "seq_depth"
	ColorFilePrefix   = "seq_color"
	FrameFileSuffix   = ".png"
	frameIndexDigits  = 5
	paramsFieldsCount = 6
)

// DatasetReplayCamera replays a recorded depth+color sequence from a directory,
// looping back to the first frame when the sequence is exhausted.
type DatasetReplayCamera struct {
	dir    string
	params CameraParameters
	logger *slog.Logger

	mu     sync.Mutex
	index  int64
	closed bool
}

// NewDatasetReplayCamera opens the dataset in dir.
// It reads seq_cparam.txt and checks that frame 0 exists; any failure is
// returned as a *ConfigError.
func NewDatasetReplayCamera(dir string, logger *slog.Logger) (*DatasetReplayCamera, error) {
	if logger == nil {
		logger = slog.Default()
	}

	params, err := ReadParameters(filepath.Join(dir, ParamsFileName))
	if err != nil {
		return nil, err
	}

	c := &DatasetReplayCamera{
		dir:    dir,
		params: params,
		logger: logger,
	}

	first, _ := c.framePaths(0)
	if _, err := os.Stat(first); err != nil {
		return nil, &ConfigError{Path: dir, Err: fmt.Errorf("dataset has no frames: %w", err)}
	}

	logger.Info("dataset replay camera opened",
		"dir", dir,
		"width", params.ImageWidth,
		"height", params.ImageHeight,
		"fx", params.FocalX,
		"fy", params.FocalY,
	)

	return c, nil
}

// ReadParameters parses a parameter file holding, in order,
// "width height focal_x focal_y principal_x principal_y".
// Tokens after the sixth are ignored.
func ReadParameters(path string) (CameraParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CameraParameters{}, &ConfigError{Path: path, Err: fmt.Errorf("camera parameters could not be read: %w", err)}
	}

	fields := strings.Fields(string(data))
	if len(fields) < paramsFieldsCount {
		return CameraParameters{}, &ConfigError{Path: path, Err: fmt.Errorf("expected %d values, found %d", paramsFieldsCount, len(fields))}
	}

	var p CameraParameters
	ints := []*int{&p.ImageWidth, &p.ImageHeight}
	for i, dst := range ints {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return CameraParameters{}, &ConfigError{Path: path, Err: fmt.Errorf("value %d: %w", i+1, err)}
		}
		*dst = v
	}
	floats := []*float32{&p.FocalX, &p.FocalY, &p.PrincipalX, &p.PrincipalY}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(fields[len(ints)+i], 32)
		if err != nil {
			return CameraParameters{}, &ConfigError{Path: path, Err: fmt.Errorf("value %d: %w", len(ints)+i+1, err)}
		}
		*dst = float32(v)
	}

	if !p.Valid() {
		return CameraParameters{}, &ConfigError{Path: path, Err: fmt.Errorf("width, height and focal lengths must be positive: %+v", p)}
	}
	return p, nil
}

// FrameFileName returns the file name for a frame index, e.g. seq_depth00042.png.
func FrameFileName(prefix string, index int64) string {
	return fmt.Sprintf("%s%0*d%s", prefix, frameIndexDigits, index, FrameFileSuffix)
}

func (c *DatasetReplayCamera) framePaths(index int64) (depth, color string) {
	return filepath.Join(c.dir, FrameFileName(DepthFilePrefix, index)),
		filepath.Join(c.dir, FrameFileName(ColorFilePrefix, index))
}

// GrabFrame reads the frame pair at the cursor and advances it.
//
// A missing depth file marks the end of the sequence and restarts at 0.
// A depth file that exists but cannot be decoded is ErrCorruptFrame.
// A missing color file is ErrMissingColor. The cursor only advances on success.
func (c *DatasetReplayCamera) GrabFrame(ctx context.Context) (InputFrame, error) {
	if err := ctx.Err(); err != nil {
		return InputFrame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return InputFrame{}, ErrClosed
	}

	index := c.index
	depthPath, colorPath := c.framePaths(index)
	if _, err := os.Stat(depthPath); errors.Is(err, fs.ErrNotExist) && index != 0 {
		c.logger.Debug("end of dataset, wrapping to first frame", "frames", index)
		index = 0
		depthPath, colorPath = c.framePaths(index)
	}

	depth, err := c.readDepth(index, depthPath)
	if err != nil {
		return InputFrame{}, err
	}

	color, err := c.readColor(index, colorPath)
	if err != nil {
		depth.Close()
		return InputFrame{}, err
	}

	c.index = index + 1

	return InputFrame{
		DepthMap:  depth,
		ColorMap:  color,
		Index:     index,
		Timestamp: time.Now(),
	}, nil
}

// readDepth decodes a single-channel depth image keeping its stored range and
// converts it to CV_32FC1 without scaling; values are already millimeters.
func (c *DatasetReplayCamera) readDepth(index int64, path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: err}
	}

	raw := gocv.IMRead(path, gocv.IMReadUnchanged)
	defer raw.Close()

	if raw.Empty() {
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: fmt.Errorf("%w: depth image could not be decoded", ErrCorruptFrame)}
	}
	if raw.Channels() != 1 {
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: fmt.Errorf("%w: depth image has %d channels", ErrCorruptFrame, raw.Channels())}
	}
	if err := c.checkSize(raw); err != nil {
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: err}
	}

	depth := gocv.NewMat()
	raw.ConvertTo(&depth, gocv.MatTypeCV32FC1)
	return depth, nil
}

func (c *DatasetReplayCamera) readColor(index int64, path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrMissingColor
		}
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: err}
	}

	color := gocv.IMRead(path, gocv.IMReadColor)
	if color.Empty() {
		color.Close()
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: fmt.Errorf("%w: color image could not be decoded", ErrCorruptFrame)}
	}
	if err := c.checkSize(color); err != nil {
		color.Close()
		return gocv.Mat{}, &FrameError{Index: index, Path: path, Err: err}
	}
	return color, nil
}

func (c *DatasetReplayCamera) checkSize(m gocv.Mat) error {
	if m.Cols() != c.params.ImageWidth || m.Rows() != c.params.ImageHeight {
		return fmt.Errorf("%w: image is %dx%d, camera is %dx%d",
			ErrCorruptFrame, m.Cols(), m.Rows(), c.params.ImageWidth, c.params.ImageHeight)
	}
	return nil
}

// Parameters returns the intrinsics read from seq_cparam.txt.
func (c *DatasetReplayCamera) Parameters() CameraParameters {
	return c.params
}

// Index returns the dataset index the next GrabFrame will try to read.
func (c *DatasetReplayCamera) Index() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Name returns "pseudo".
func (c *DatasetReplayCamera) Name() string {
	return string(BackendPseudo)
}

// Close marks the camera closed. No file handles are held between grabs.
func (c *DatasetReplayCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Ensure DatasetReplayCamera implements Camera.
var _ Camera = (*DatasetReplayCamera)(nil)
