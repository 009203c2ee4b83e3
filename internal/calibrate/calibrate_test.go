package calibrate

import (
	"testing"

	"github.com/skystack/core/internal/calib"
	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/fits"
)

func newFlatFrame(width, height int32, value float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{width, height}
	f.Pixels = width * height
	f.Data = make([]float32, width*height)
	for i := range f.Data {
		f.Data[i] = value
	}
	return f
}

// TestCalibrateExposureScaledDark implements spec.md §8 scenario 2: a 60s
// light of 500.0, a bias-subtracted 120s master dark of 200.0, and a master
// bias of 100.0 combine to 500 - 100 - (60/120)*200 = 300.0.
func TestCalibrateExposureScaledDark(t *testing.T) {
	light := newFlatFrame(4, 4, 500.0)
	light.Exposure = 60

	bias := &calib.Master{Frame: newFlatFrame(4, 4, 100.0)}
	dark := &calib.Master{Frame: newFlatFrame(4, 4, 200.0)}
	dark.Exposure = 120

	out, err := Calibrate(light, Steps{Bias: true, Dark: true}, Overrides{Bias: bias, Dark: dark}, nil, config.Default())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	for i, v := range out.Data {
		if v != 300.0 {
			t.Fatalf("pixel %d: got %f, want 300.0", i, v)
		}
	}
	for i, v := range light.Data {
		if v != 500.0 {
			t.Fatalf("input mutated at pixel %d: got %f, want 500.0", i, v)
		}
	}
}

// TestCalibrateShapeMismatch enforces spec.md §4.3's hard failure when a
// calibration master's dimensions don't match the light frame's.
func TestCalibrateShapeMismatch(t *testing.T) {
	light := newFlatFrame(4, 4, 500.0)
	bias := &calib.Master{Frame: newFlatFrame(2, 2, 100.0)}

	_, err := Calibrate(light, Steps{Bias: true}, Overrides{Bias: bias}, nil, config.Default())
	if err == nil {
		t.Fatal("expected a shape mismatch error, got nil")
	}
}

// TestCalibrateMissingMasterIsSoftFailure verifies a missing master records
// a warning instead of aborting.
func TestCalibrateMissingMasterIsSoftFailure(t *testing.T) {
	light := newFlatFrame(4, 4, 500.0)
	lib, err := calib.Open(t.TempDir(), config.Default(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	out, err := Calibrate(light, Steps{Bias: true}, Overrides{}, lib, config.Default())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if _, ok := out.Header.Strings["CALIB_WARNINGS"]; !ok {
		t.Error("expected CALIB_WARNINGS to be set for a missing bias master")
	}
	for i, v := range out.Data {
		if v != 500.0 {
			t.Fatalf("pixel %d: got %f, want unchanged 500.0", i, v)
		}
	}
}
