//go:build !realsense

package depthcam

import "fmt"

// NewRealSenseRuntime returns an error when built without the realsense tag.
func NewRealSenseRuntime() (Runtime, error) {
	return nil, fmt.Errorf("%w: librealsense support not compiled in (build with -tags realsense)", ErrBackendUnavailable)
}
