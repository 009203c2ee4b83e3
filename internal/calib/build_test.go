package calib_test

import (
	"testing"

	"github.com/skystack/core/internal/calib"
	"github.com/skystack/core/internal/calibrate"
	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/sequence"
)

// newTestFrame builds a minimal, uniformly-valued frame for calibration
// tests rather than reading real FITS fixtures from disk.
func newTestFrame(width, height int32, value float32, gain, offset, tempC float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{width, height}
	f.Pixels = width * height
	f.Data = make([]float32, width*height)
	for i := range f.Data {
		f.Data[i] = value
	}
	f.Header.Floats["GAIN"] = gain
	f.Header.Floats["OFFSET"] = offset
	f.Header.Floats["CCD-TEMP"] = tempC
	f.Header.Ints["XBINNING"] = 1
	f.Header.Ints["YBINNING"] = 1
	return f
}

// TestBuildBiasMasterIdenticalFrames verifies that three identical
// 512x512 bias frames combine to a master equal to the inputs.
func TestBuildBiasMasterIdenticalFrames(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	lib, err := calib.Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	frames := make([]*fits.Frame, 3)
	for i := range frames {
		frames[i] = newTestFrame(512, 512, 1000.0, 100, 50, -10)
		frames[i].Kind = fits.Bias
	}
	seq := sequence.New(frames)

	master, err := lib.Build(fits.MasterBias, seq, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i, v := range master.Data {
		if v != 1000.0 {
			t.Fatalf("pixel %d: got %f, want 1000.0", i, v)
		}
	}
	if got := master.Header.Strings["IMAGETYP"]; got != "Master Bias" {
		t.Errorf("IMAGETYP: got %q, want %q", got, "Master Bias")
	}
	if !master.Header.Bools["COMBINED"] {
		t.Error("COMBINED: want true")
	}
	if got := master.Header.Ints["NINPUTS"]; got != 3 {
		t.Errorf("NINPUTS: got %d, want 3", got)
	}

	found, ok := lib.FindBias(newTestFrame(512, 512, 0, 100, 50, -10))
	if !ok || found != master {
		t.Error("FindBias: expected the freshly built master to be indexed and matched")
	}
}

// TestFlatCalibrationOfItsOwnPatternIsFlat verifies that flat-correcting a
// frame by a master flat built from the same illumination pattern yields a
// flat (uniform) image, since the median-normalized flat cancels the
// pattern exactly.
func TestFlatCalibrationOfItsOwnPatternIsFlat(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	lib, err := calib.Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	bias := newTestFrame(4, 4, 100.0, 100, 50, -10)
	bias.Kind = fits.Bias
	if _, err := lib.Build(fits.MasterBias, sequence.New([]*fits.Frame{bias}), cfg, nil); err != nil {
		t.Fatalf("Build bias: %v", err)
	}

	darkFrame := patternFrame(100, 50, -10, 10, func(i int) float32 { return 150 })
	darkFrame.Kind = fits.Dark
	darkFrame.Exposure = 10
	if _, err := lib.Build(fits.MasterDark, sequence.New([]*fits.Frame{darkFrame}), cfg, nil); err != nil {
		t.Fatalf("Build dark: %v", err)
	}

	pattern := func(i int) float32 { return 200 + float32(i)*10 }
	flatRaw := patternFrame(100, 50, -10, 10, func(i int) float32 { return 100 + 50 + pattern(i) })
	flatRaw.Kind = fits.Flat
	if _, err := lib.Build(fits.MasterFlat, sequence.New([]*fits.Frame{flatRaw}), cfg, nil); err != nil {
		t.Fatalf("Build flat: %v", err)
	}

	light := patternFrame(100, 50, -10, 10, func(i int) float32 { return 100 + 50 + pattern(i) })
	light.Kind = fits.Light

	steps := calibrate.Steps{Bias: true, Dark: true, Flat: true}
	out, err := calibrate.Calibrate(light, steps, calibrate.Overrides{}, lib, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	want := out.Data[0]
	for i, v := range out.Data {
		if diff := v - want; diff > 0.05 || diff < -0.05 {
			t.Fatalf("pixel %d: got %f, want %f (flat-fielding its own pattern should yield a uniform image)", i, v, want)
		}
	}
}

// patternFrame builds a 4x4 frame whose pixel i takes value(i), sharing a
// fingerprint (gain/offset/temp/exposure) with the rest of the round-trip.
func patternFrame(gain, offset, tempC, exposure float32, value func(i int) float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{4, 4}
	f.Pixels = 16
	f.Data = make([]float32, 16)
	for i := range f.Data {
		f.Data[i] = value(i)
	}
	f.Exposure = exposure
	f.Header.Floats["GAIN"] = gain
	f.Header.Floats["OFFSET"] = offset
	f.Header.Floats["CCD-TEMP"] = tempC
	f.Header.Ints["XBINNING"] = 1
	f.Header.Ints["YBINNING"] = 1
	return f
}
