package stack

import (
	"context"
	"testing"
	"time"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corelog"
	"github.com/skystack/core/internal/ephemeris"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/wcs"
)

func uniformFrame(value float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{4, 4}
	f.Pixels = 16
	f.Data = make([]float32, 16)
	for i := range f.Data {
		f.Data[i] = value
	}
	return f
}

func TestStackMean(t *testing.T) {
	in := Input{Frames: []*fits.Frame{uniformFrame(10), uniformFrame(20), uniformFrame(30)}}
	cfg := config.Default()

	result, err := Stack(context.Background(), in, cfg, Spec{Op: config.ReduceMean, SigmaClip: false}, corelog.NopProgress, corelog.NopLog)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	for i, v := range result.Frame.Data {
		if v != 20 {
			t.Fatalf("pixel %d: got %f, want 20 (mean of 10,20,30)", i, v)
		}
	}
	if !result.Frame.Header.Bools["COMBINED"] {
		t.Error("COMBINED: want true")
	}
	if result.Frame.Header.Bools["MOTION_TRACKED"] {
		t.Error("MOTION_TRACKED: want false for a static stack")
	}
}

func TestStackMedianRejectsOutlier(t *testing.T) {
	frames := []*fits.Frame{uniformFrame(10), uniformFrame(10), uniformFrame(10), uniformFrame(10), uniformFrame(1000)}
	in := Input{Frames: frames}
	cfg := config.Default()
	cfg.SigmaLow, cfg.SigmaHigh = 2, 2

	result, err := Stack(context.Background(), in, cfg, Spec{Op: config.ReduceMean, SigmaClip: true}, corelog.NopProgress, corelog.NopLog)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	for i, v := range result.Frame.Data {
		if v != 10 {
			t.Fatalf("pixel %d: got %f, want 10 (outlier rejected)", i, v)
		}
	}
	if result.RejectedHigh == 0 {
		t.Error("expected the 1000-valued outlier to be rejected")
	}
}

func TestStackEmptyInputFails(t *testing.T) {
	_, err := Stack(context.Background(), Input{}, config.Default(), Spec{Op: config.ReduceMean}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an empty input")
	}
}

type fakeEphemerisSource struct{ ra0, dec0 float64 }

func (s fakeEphemerisSource) Query(ctx context.Context, target string, times []time.Time) (map[time.Time]ephemeris.Sample, error) {
	out := make(map[time.Time]ephemeris.Sample, len(times))
	for _, t := range times {
		out[t] = ephemeris.Sample{Time: t, RADeg: s.ra0, DecDeg: s.dec0, RateArcsecPerMin: 60, PositionAngleDeg: 90}
	}
	return out, nil
}

func movingFrame(t0 time.Time, value float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{20, 20}
	f.Pixels = 400
	f.Data = make([]float32, 400)
	for i := range f.Data {
		f.Data[i] = value
	}
	f.Header.Dates["DATE-OBS"] = t0.Format(time.RFC3339)
	w := wcs.NewFromCD(10, 10, 10, 0, -1.0/3600.0, 0, 0, 1.0/3600.0)
	f.WCS = &w
	return f
}

// TestStackMotionTrackedPersistsMetadata verifies a motion-tracked run
// crops back to the original dimensions and records the §6 metadata keys.
func TestStackMotionTrackedPersistsMetadata(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frames := []*fits.Frame{movingFrame(t0, 5), movingFrame(t0.Add(1*time.Second), 5)}
	in := Input{Frames: frames, InputWCS: []*wcs.WCS{frames[0].WCS, frames[1].WCS}}
	cfg := config.Default()

	spec := Spec{
		Op: config.ReduceMean,
		Motion: &MotionSpec{
			Target:    "test-target",
			Ephemeris: fakeEphemerisSource{ra0: 10, dec0: 0},
		},
	}

	result, err := Stack(context.Background(), in, cfg, spec, corelog.NopProgress, corelog.NopLog)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.Frame.Width() != 20 || result.Frame.Height() != 20 {
		t.Fatalf("expected crop back to 20x20, got %dx%d", result.Frame.Width(), result.Frame.Height())
	}
	if !result.Frame.Header.Bools["MOTION_TRACKED"] {
		t.Error("MOTION_TRACKED: want true")
	}
	if result.Frame.Header.Strings["TRACKED_OBJECT"] != "test-target" {
		t.Errorf("TRACKED_OBJECT: got %q", result.Frame.Header.Strings["TRACKED_OBJECT"])
	}
	for _, key := range []string{"MOTION_SHIFTS", "PADDING", "REFERENCE_POSITION", "REFERENCE_TIME"} {
		if _, ok := result.Frame.Header.Strings[key]; !ok {
			t.Errorf("expected header key %s to be set", key)
		}
	}

	if _, err := result.Inverse(wcs.Pixel{X: 10, Y: 10}); err != nil {
		t.Errorf("Inverse: %v", err)
	}
}
