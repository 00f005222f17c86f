package depthcam

import "fmt"

// StreamProfile is the resolution and frame rate requested for both the depth
// and color streams of a live device.
type StreamProfile struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

// Preset names for D400-series stream profiles.
const (
	PresetDefault  = "default"
	Preset720p     = "720p"
	Preset720p15   = "720p15"
	Preset480p     = "480p"
	Preset480p60   = "480p60"
	PresetWide480p = "wide480p"
)

// Frame rates accepted by D400-series depth and color sensors.
var supportedFPS = map[int]bool{6: true, 15: true, 30: true, 60: true, 90: true}

// DefaultStreamProfile returns 1280x720 at 30 fps for both streams.
func DefaultStreamProfile() StreamProfile {
	return StreamProfile{Width: 1280, Height: 720, FPS: 30}
}

// Presets returns all available stream profiles.
func Presets() map[string]StreamProfile {
	return map[string]StreamProfile{
		PresetDefault:  DefaultStreamProfile(),
		Preset720p:     DefaultStreamProfile(),
		Preset720p15:   {Width: 1280, Height: 720, FPS: 15},
		Preset480p:     {Width: 640, Height: 480, FPS: 30},
		Preset480p60:   {Width: 640, Height: 480, FPS: 60},
		PresetWide480p: {Width: 848, Height: 480, FPS: 30},
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset720p,
		Preset720p15,
		Preset480p,
		Preset480p60,
		PresetWide480p,
	}
}

// GetPreset returns a stream profile by name, or nil if not found.
func GetPreset(name string) *StreamProfile {
	if p, ok := Presets()[name]; ok {
		return &p
	}
	return nil
}

// Validate returns a list of problems, or nil if the profile is usable.
func (p StreamProfile) Validate() []string {
	var errs []string
	if p.Width < 1 || p.Width > 1920 {
		errs = append(errs, "width must be between 1 and 1920")
	}
	if p.Height < 1 || p.Height > 1080 {
		errs = append(errs, "height must be between 1 and 1080")
	}
	if !supportedFPS[p.FPS] {
		errs = append(errs, "fps must be one of 6, 15, 30, 60, 90")
	}
	return errs
}

func (p StreamProfile) String() string {
	return fmt.Sprintf("%dx%d@%d", p.Width, p.Height, p.FPS)
}
