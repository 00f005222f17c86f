package depthcam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

const (
	testWidth  = 8
	testHeight = 6
)

// writeDataset writes n frame pairs whose depth is 1000+i mm and whose blue
// channel is 10*i, so each frame identifies its index.
func writeDataset(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()

	params := fmt.Sprintf("%d %d\n525.5 524.25\n%g %g\n", testWidth, testHeight, 3.5, 2.75)
	if err := os.WriteFile(filepath.Join(dir, ParamsFileName), []byte(params), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}

	for i := 0; i < n; i++ {
		depth := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(1000+i), 0, 0, 0), testHeight, testWidth, gocv.MatTypeCV16UC1)
		if !gocv.IMWrite(filepath.Join(dir, FrameFileName(DepthFilePrefix, int64(i))), depth) {
			t.Fatalf("write depth %d", i)
		}
		depth.Close()

		color := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(10*i), 20, 30, 0), testHeight, testWidth, gocv.MatTypeCV8UC3)
		if !gocv.IMWrite(filepath.Join(dir, FrameFileName(ColorFilePrefix, int64(i))), color) {
			t.Fatalf("write color %d", i)
		}
		color.Close()
	}
	return dir
}

func TestFrameFileName(t *testing.T) {
	tests := []struct {
		prefix string
		index  int64
		want   string
	}{
		{DepthFilePrefix, 0, "seq_depth00000.png"},
		{ColorFilePrefix, 42, "seq_color00042.png"},
		{DepthFilePrefix, 99999, "seq_depth99999.png"},
	}

	for _, tc := range tests {
		if got := FrameFileName(tc.prefix, tc.index); got != tc.want {
			t.Errorf("FrameFileName(%q, %d) = %q, want %q", tc.prefix, tc.index, got, tc.want)
		}
	}
}

func TestReadParameters(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    CameraParameters
		wantErr bool
	}{
		{
			name:    "single line",
			content: "640 480 525 525 319.5 239.5",
			want:    CameraParameters{640, 480, 525, 525, 319.5, 239.5},
		},
		{
			name:    "mixed whitespace and trailing tokens",
			content: "1280\t720\n\n915.25 914.5\n640.75 360.125\nignored",
			want:    CameraParameters{1280, 720, 915.25, 914.5, 640.75, 360.125},
		},
		{name: "too few values", content: "640 480 525", wantErr: true},
		{name: "non numeric", content: "640 abc 525 525 319.5 239.5", wantErr: true},
		{name: "fractional width", content: "640.5 480 525 525 319.5 239.5", wantErr: true},
		{name: "zero focal", content: "640 480 0 525 319.5 239.5", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ParamsFileName)
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}

			got, err := ReadParameters(path)
			if tc.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadParameters failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDatasetReplayCamera_Parameters(t *testing.T) {
	cam, err := NewDatasetReplayCamera(writeDataset(t, 1), nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	want := CameraParameters{testWidth, testHeight, 525.5, 524.25, 3.5, 2.75}
	if got := cam.Parameters(); got != want {
		t.Errorf("Parameters() = %+v, want %+v", got, want)
	}
	if cam.Name() != "pseudo" {
		t.Errorf("Name() = %q, want pseudo", cam.Name())
	}
}

func TestDatasetReplayCamera_MissingParams(t *testing.T) {
	dir := writeDataset(t, 2)
	if err := os.Remove(filepath.Join(dir, ParamsFileName)); err != nil {
		t.Fatal(err)
	}

	_, err := NewDatasetReplayCamera(dir, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestDatasetReplayCamera_NoFrames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ParamsFileName), []byte("8 6 1 1 4 3"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDatasetReplayCamera(dir, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty dataset, got %v", err)
	}
}

func TestDatasetReplayCamera_Wraparound(t *testing.T) {
	cam, err := NewDatasetReplayCamera(writeDataset(t, 3), nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	ctx := context.Background()
	want := []int64{0, 1, 2, 0, 1}

	for call, wantIndex := range want {
		frame, err := cam.GrabFrame(ctx)
		if err != nil {
			t.Fatalf("GrabFrame #%d failed: %v", call+1, err)
		}

		if frame.Index != wantIndex {
			t.Errorf("GrabFrame #%d: index %d, want %d", call+1, frame.Index, wantIndex)
		}
		if got := frame.DepthMap.GetFloatAt(0, 0); got != float32(1000+wantIndex) {
			t.Errorf("GrabFrame #%d: depth %v, want %d", call+1, got, 1000+wantIndex)
		}
		if got := frame.ColorMap.GetVecbAt(testHeight-1, testWidth-1)[0]; got != uint8(10*wantIndex) {
			t.Errorf("GrabFrame #%d: blue %d, want %d", call+1, got, 10*wantIndex)
		}
		frame.Close()
	}
}

func TestDatasetReplayCamera_FrameShape(t *testing.T) {
	cam, err := NewDatasetReplayCamera(writeDataset(t, 1), nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	frame, err := cam.GrabFrame(context.Background())
	if err != nil {
		t.Fatalf("GrabFrame failed: %v", err)
	}
	defer frame.Close()

	p := cam.Parameters()
	if frame.Width() != p.ImageWidth || frame.Height() != p.ImageHeight {
		t.Errorf("depth is %dx%d, want %dx%d", frame.Width(), frame.Height(), p.ImageWidth, p.ImageHeight)
	}
	if frame.ColorMap.Cols() != p.ImageWidth || frame.ColorMap.Rows() != p.ImageHeight {
		t.Errorf("color is %dx%d, want %dx%d", frame.ColorMap.Cols(), frame.ColorMap.Rows(), p.ImageWidth, p.ImageHeight)
	}
	if frame.DepthMap.Type() != gocv.MatTypeCV32FC1 {
		t.Errorf("depth type %v, want CV_32FC1", frame.DepthMap.Type())
	}
	if frame.ColorMap.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("color type %v, want CV_8UC3", frame.ColorMap.Type())
	}
}

func TestDatasetReplayCamera_CorruptDepth(t *testing.T) {
	dir := writeDataset(t, 3)
	if err := os.WriteFile(filepath.Join(dir, FrameFileName(DepthFilePrefix, 1)), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	cam, err := NewDatasetReplayCamera(dir, nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	ctx := context.Background()
	frame, err := cam.GrabFrame(ctx)
	if err != nil {
		t.Fatalf("first GrabFrame failed: %v", err)
	}
	frame.Close()

	_, err = cam.GrabFrame(ctx)
	if !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("corrupt frame should not be retryable")
	}
	if cam.Index() != 1 {
		t.Errorf("cursor moved to %d after failure, want 1", cam.Index())
	}
}

func TestDatasetReplayCamera_MissingColor(t *testing.T) {
	dir := writeDataset(t, 2)
	if err := os.Remove(filepath.Join(dir, FrameFileName(ColorFilePrefix, 0))); err != nil {
		t.Fatal(err)
	}

	cam, err := NewDatasetReplayCamera(dir, nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	_, err = cam.GrabFrame(context.Background())
	if !errors.Is(err, ErrMissingColor) {
		t.Fatalf("expected ErrMissingColor, got %v", err)
	}
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Index != 0 {
		t.Errorf("expected *FrameError for index 0, got %v", err)
	}
}

func TestDatasetReplayCamera_SizeMismatch(t *testing.T) {
	dir := writeDataset(t, 1)
	if err := os.WriteFile(filepath.Join(dir, ParamsFileName), []byte("16 12 1 1 8 6"), 0o644); err != nil {
		t.Fatal(err)
	}

	cam, err := NewDatasetReplayCamera(dir, nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	if _, err := cam.GrabFrame(context.Background()); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected ErrCorruptFrame for size mismatch, got %v", err)
	}
}

func TestDatasetReplayCamera_CorruptFrameFiles(t *testing.T) {
	writeImage := func(t *testing.T, path string, m gocv.Mat) {
		t.Helper()
		defer m.Close()
		if !gocv.IMWrite(path, m) {
			t.Fatalf("write %s", path)
		}
	}

	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "undecodable color",
			corrupt: func(t *testing.T, dir string) {
				if err := os.WriteFile(filepath.Join(dir, FrameFileName(ColorFilePrefix, 0)), []byte("not a png"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "color size differs from depth",
			corrupt: func(t *testing.T, dir string) {
				writeImage(t, filepath.Join(dir, FrameFileName(ColorFilePrefix, 0)),
					gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), testHeight/2, testWidth/2, gocv.MatTypeCV8UC3))
			},
		},
		{
			name: "three channel depth",
			corrupt: func(t *testing.T, dir string) {
				writeImage(t, filepath.Join(dir, FrameFileName(DepthFilePrefix, 0)),
					gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), testHeight, testWidth, gocv.MatTypeCV8UC3))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeDataset(t, 2)
			tc.corrupt(t, dir)

			cam, err := NewDatasetReplayCamera(dir, nil)
			if err != nil {
				t.Fatalf("NewDatasetReplayCamera failed: %v", err)
			}
			defer cam.Close()

			_, err = cam.GrabFrame(context.Background())
			if !errors.Is(err, ErrCorruptFrame) {
				t.Fatalf("expected ErrCorruptFrame, got %v", err)
			}
			if errors.Is(err, ErrMissingColor) {
				t.Errorf("corrupt file reported as missing: %v", err)
			}
			if cam.Index() != 0 {
				t.Errorf("cursor moved to %d after failure, want 0", cam.Index())
			}
		})
	}
}

func TestDatasetReplayCamera_Closed(t *testing.T) {
	cam, err := NewDatasetReplayCamera(writeDataset(t, 1), nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	cam.Close()

	if _, err := cam.GrabFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDatasetReplayCamera_CancelledContext(t *testing.T) {
	cam, err := NewDatasetReplayCamera(writeDataset(t, 1), nil)
	if err != nil {
		t.Fatalf("NewDatasetReplayCamera failed: %v", err)
	}
	defer cam.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cam.GrabFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if cam.Index() != 0 {
		t.Errorf("cursor moved to %d, want 0", cam.Index())
	}
}
