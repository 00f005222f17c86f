package depthcam

import (
	"fmt"
	"runtime"

	"gocv.io/x/gocv"
)

// MillimetersPerMeter scales a meters-per-unit depth scale to millimeters.
const MillimetersPerMeter = 1000

// packRows copies rows of rowBytes out of a strided buffer into a new
// tightly packed slice. The result never aliases data.
func packRows(data []byte, rowBytes, stride, rows int) ([]byte, error) {
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return nil, fmt.Errorf("stride %d smaller than row size %d", stride, rowBytes)
	}
	if rows > 0 && len(data) < stride*(rows-1)+rowBytes {
		return nil, fmt.Errorf("buffer holds %d bytes, need %d", len(data), stride*(rows-1)+rowBytes)
	}

	out := make([]byte, rowBytes*rows)
	for r := 0; r < rows; r++ {
		copy(out[r*rowBytes:(r+1)*rowBytes], data[r*stride:r*stride+rowBytes])
	}
	return out, nil
}

func checkRawFrame(raw RawFrame, width, height int, formats ...Format) error {
	if raw.Data == nil {
		return ErrIncompleteFrameSet
	}
	if raw.Width != width || raw.Height != height {
		return fmt.Errorf("%w: %s frame is %dx%d, camera is %dx%d",
			ErrCorruptFrame, raw.Format, raw.Width, raw.Height, width, height)
	}
	for _, f := range formats {
		if raw.Format == f {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected format %s", ErrCorruptFrame, raw.Format)
}

// DepthToMillimeters copies a Z16 frame into a CV_32FC1 Mat where each sample
// is raw * depthScale * 1000.
func DepthToMillimeters(raw RawFrame, width, height int, depthScale float32) (gocv.Mat, error) {
	if err := checkRawFrame(raw, width, height, FormatZ16); err != nil {
		return gocv.Mat{}, err
	}
	buf, err := packRows(raw.Data, width*FormatZ16.BytesPerPixel(), raw.Stride, height)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: depth: %v", ErrCorruptFrame, err)
	}

	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV16UC1, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap depth buffer: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	src.ConvertToWithParams(&dst, gocv.MatTypeCV32FC1, depthScale*MillimetersPerMeter, 0)
	runtime.KeepAlive(buf)
	return dst, nil
}

// ColorToBGR copies a BGR8 or RGB8 frame into a BGR CV_8UC3 Mat.
func ColorToBGR(raw RawFrame, width, height int) (gocv.Mat, error) {
	if err := checkRawFrame(raw, width, height, FormatBGR8, FormatRGB8); err != nil {
		return gocv.Mat{}, err
	}
	buf, err := packRows(raw.Data, width*raw.Format.BytesPerPixel(), raw.Stride, height)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: color: %v", ErrCorruptFrame, err)
	}

	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap color buffer: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	if raw.Format == FormatRGB8 {
		gocv.CvtColor(src, &dst, gocv.ColorRGBToBGR)
	} else {
		src.CopyTo(&dst)
	}
	runtime.KeepAlive(buf)
	return dst, nil
}
