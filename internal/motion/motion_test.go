package motion

import (
	"context"
	"testing"
	"time"

	"github.com/skystack/core/internal/ephemeris"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/wcs"
)

// fakeSource answers every queried time with the same rate/PA, as spec.md
// §8 scenario 5 specifies (rate=60 arcsec/min, PA=90 east); RA/Dec at t0 is
// the frame's own CRVAL so the reference pixel lands exactly on CRPIX.
type fakeSource struct {
	ra0, dec0 float64
}

func (s fakeSource) Query(ctx context.Context, target string, times []time.Time) (map[time.Time]ephemeris.Sample, error) {
	out := make(map[time.Time]ephemeris.Sample, len(times))
	for _, t := range times {
		out[t] = ephemeris.Sample{Time: t, RADeg: s.ra0, DecDeg: s.dec0, RateArcsecPerMin: 60, PositionAngleDeg: 90}
	}
	return out, nil
}

func testFrame(t0 time.Time) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{1000, 1000}
	f.Pixels = 1000 * 1000
	f.Data = make([]float32, f.Pixels)
	f.Header.Dates["DATE-OBS"] = t0.Format(time.RFC3339)
	w := wcs.NewFromCD(500, 500, 10, 0, -1.0/3600.0, 0, 0, 1.0/3600.0)
	f.WCS = &w
	return f
}

// TestComputeShiftScenario5 implements spec.md §8 scenario 5: two frames
// 3600s apart, rate 60 arcsec/min east, 1 arcsec/pixel plate scale. Expected
// frame 2 shift (+3600, 0) and padding (0, 3602, 2, 2).
func TestComputeShiftScenario5(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f0 := testFrame(t0)
	f1 := testFrame(t0.Add(3600 * time.Second))

	plan, err := Compute(context.Background(), []*fits.Frame{f0, f1}, "test-target", fakeSource{ra0: 10, dec0: 0}, nil, false)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(plan.Shifts) != 2 {
		t.Fatalf("expected 2 shifts, got %d", len(plan.Shifts))
	}
	if plan.Shifts[0].DX != 0 || plan.Shifts[0].DY != 0 {
		t.Errorf("frame 0 shift: got %+v, want (0,0)", plan.Shifts[0])
	}
	if plan.Shifts[1].DX != 3600 || plan.Shifts[1].DY != 0 {
		t.Errorf("frame 1 shift: got %+v, want (3600,0)", plan.Shifts[1])
	}
	if plan.ReferencePixel.X != 500 || plan.ReferencePixel.Y != 500 {
		t.Errorf("reference pixel: got %+v, want (500,500)", plan.ReferencePixel)
	}

	pad := ComputePadding(plan.Shifts)
	want := Padding{Left: 0, Right: 3602, Top: 2, Bottom: 2}
	if pad != want {
		t.Errorf("padding: got %+v, want %+v", pad, want)
	}
}

// TestInverseScenario6 implements spec.md §8 scenario 6: shifts [(0,0),
// (3600,0)] and cursor (500,500) invert to {(500,500), (-3100,500)} exactly.
func TestInverseScenario6(t *testing.T) {
	shifts := []Shift{{DX: 0, DY: 0}, {DX: 3600, DY: 0}}
	results := Inverse(wcs.Pixel{X: 500, Y: 500}, shifts, make([]*wcs.WCS, 2))

	if results[0].Pixel.X != 500 || results[0].Pixel.Y != 500 {
		t.Errorf("frame 0: got %+v, want (500,500)", results[0].Pixel)
	}
	if results[1].Pixel.X != -3100 || results[1].Pixel.Y != 500 {
		t.Errorf("frame 1: got %+v, want (-3100,500)", results[1].Pixel)
	}
}

// TestShiftAndPadCropRoundTrip verifies padding then cropping returns the
// original frame content untouched when the shift is zero.
func TestShiftAndPadCropRoundTrip(t *testing.T) {
	f := testFrame(time.Now())
	for i := range f.Data {
		f.Data[i] = float32(i)
	}
	pad := Padding{Left: 2, Right: 2, Top: 2, Bottom: 2}
	padded := ShiftAndPad(f, Shift{}, pad)
	cropped := Crop(padded.Data, padded.Width(), pad, f.Width(), f.Height())

	for i := range f.Data {
		if cropped[i] != f.Data[i] {
			t.Fatalf("pixel %d: got %f, want %f", i, cropped[i], f.Data[i])
		}
	}
}
