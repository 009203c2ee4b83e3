// Package motion computes and inverts the per-frame pixel shifts that keep
// a named moving target static across a stack, per spec.md §4.5.c/§4.5.d.
// Grounded in the teacher's internal/align resampling technique (itself
// ported from the teacher's fits.Image.Project) for the shift-and-pad
// resample, and in tejzpr-go-swisseph's CalcResult shape for how an
// external ephemeris answer is modeled (see internal/ephemeris).
package motion

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/skystack/core/internal/align"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/ephemeris"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/wcs"
)

// Shift is a per-frame translation in the reference frame's pixel
// coordinates, per spec.md §3's MotionShift.
type Shift struct {
	DX, DY float64
}

// interpolationMargin is the fixed buffer added to the padded canvas beyond
// the raw shift extent, per spec.md §4.5.c step 7 and validated against
// scenario 5 (rate=60 arcsec/min, PA=90 deg, 1 arcsec/px, 3600 s baseline
// yields padding (0, 3602, 2, 2)).
const interpolationMargin = 2

// MidpointTime reads a frame's midpoint exposure time from its DATE-OBS
// header card plus half its exposure, per spec.md §4.5.c step 1.
func MidpointTime(f *fits.Frame) (time.Time, bool) {
	raw, ok := f.Header.Dates["DATE-OBS"]
	if !ok {
		raw, ok = f.Header.Strings["DATE-OBS"]
	}
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", raw)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.Add(time.Duration(float64(f.Exposure) * float64(time.Second) / 2)), true
}

// Plan is the full result of computing motion shifts for a sequence: the
// per-frame shifts, the chosen reference time, the reference pixel position
// of the target, and any per-timestamp ephemeris warnings recorded in
// compatibility mode.
type Plan struct {
	Shifts         []Shift
	ReferenceTime  time.Time
	ReferencePixel wcs.Pixel
	Warnings       []*corefail.Warning
}

// Compute implements spec.md §4.5.c steps 1-6: batch-query the ephemeris
// source for every frame's midpoint time, average the returned motion rate
// and position angle, choose a reference time, and derive each frame's
// pixel shift relative to the reference frame's target position.
//
// refTime, if non-nil, overrides the default (earliest midpoint). When
// allowPartial is true, a timestamp missing from the ephemeris answer is
// zero-shifted and recorded as a warning instead of aborting with
// EphemerisIncomplete.
func Compute(ctx context.Context, frames []*fits.Frame, target string, src ephemeris.Source, refTime *time.Time, allowPartial bool) (*Plan, error) {
	if len(frames) == 0 {
		return nil, corefail.New(corefail.EmptySequence, "", "motion tracking sequence has no frames")
	}

	times := make([]time.Time, len(frames))
	for i, f := range frames {
		t, ok := MidpointTime(f)
		if !ok {
			return nil, corefail.New(corefail.EphemerisUnavailable, f.FileName, "frame has no DATE-OBS midpoint time")
		}
		times[i] = t
	}

	samples, err := src.Query(ctx, target, times)
	if err != nil {
		return nil, corefail.Wrap(corefail.EphemerisUnavailable, target, err)
	}

	var warnings []*corefail.Warning
	resolved := make([]ephemeris.Sample, len(times))
	var rateSum, paSum float64
	var n int
	for i, t := range times {
		s, ok := samples[t]
		if !ok {
			if !allowPartial {
				return nil, corefail.New(corefail.EphemerisIncomplete, frames[i].FileName,
					"ephemeris answer missing timestamp %s", t.Format(time.RFC3339))
			}
			warnings = append(warnings, &corefail.Warning{
				Kind: corefail.EphemerisIncomplete, Input: frames[i].FileName,
				Cause: fmt.Errorf("ephemeris missing timestamp %s, zero-shifting", t.Format(time.RFC3339)),
			})
			resolved[i] = ephemeris.Sample{Time: t}
			continue
		}
		resolved[i] = s
		rateSum += s.RateArcsecPerMin
		paSum += s.PositionAngleDeg
		n++
	}
	if n == 0 {
		return nil, corefail.New(corefail.EphemerisUnavailable, target, "ephemeris answered no usable timestamps")
	}
	avgRate := rateSum / float64(n)
	avgPA := paSum / float64(n)

	refIdx := 0
	reference := times[0]
	if refTime != nil {
		reference = *refTime
		for i, t := range times {
			if t.Equal(reference) {
				refIdx = i
				break
			}
		}
	} else {
		for i, t := range times {
			if t.Before(reference) {
				reference = t
				refIdx = i
			}
		}
	}

	refFrame := frames[refIdx]
	if refFrame.WCS == nil {
		return nil, corefail.New(corefail.PreconditionFailed, refFrame.FileName, "reference frame has no WCS for motion tracking")
	}
	refWorld := resolved[refIdx]
	referencePixel, err := refFrame.WCS.EquatorialToPixel(wcs.Equatorial{RA: refWorld.RADeg, Dec: refWorld.DecDeg})
	if err != nil {
		return nil, corefail.Wrap(corefail.ResamplingError, refFrame.FileName, err)
	}

	shifts := make([]Shift, len(frames))
	for i, f := range frames {
		if f.WCS == nil {
			return nil, corefail.New(corefail.PreconditionFailed, f.FileName, "frame has no WCS for motion tracking")
		}
		deltaSeconds := times[i].Sub(reference).Seconds()
		eq := displacedPosition(refWorld.RADeg, refWorld.DecDeg, avgRate, avgPA, deltaSeconds)
		px, err := f.WCS.EquatorialToPixel(eq)
		if err != nil {
			return nil, corefail.Wrap(corefail.ResamplingError, f.FileName, err)
		}
		dx := roundHalfPixel(referencePixel.X - px.X)
		dy := roundHalfPixel(referencePixel.Y - px.Y)
		shifts[i] = Shift{DX: dx, DY: dy}
	}

	return &Plan{Shifts: shifts, ReferenceTime: reference, ReferencePixel: referencePixel, Warnings: warnings}, nil
}

// displacedPosition computes the target's world position deltaSeconds away
// from (ra0, dec0) given an average rate (arcsec/min) and position angle
// (degrees, measured from north through east), per spec.md §4.5.c step 5.
func displacedPosition(ra0, dec0, rateArcsecPerMin, positionAngleDeg, deltaSeconds float64) wcs.Equatorial {
	magnitudeArcsec := rateArcsecPerMin * (deltaSeconds / 60.0)
	pa := positionAngleDeg * math.Pi / 180.0
	deltaDecArcsec := magnitudeArcsec * math.Cos(pa)
	deltaRAArcsec := magnitudeArcsec * math.Sin(pa)

	cosDec := math.Cos(dec0 * math.Pi / 180.0)
	if cosDec == 0 {
		cosDec = 1e-9
	}
	deltaRADeg := (deltaRAArcsec / 3600.0) / cosDec
	deltaDecDeg := deltaDecArcsec / 3600.0
	return wcs.Equatorial{RA: ra0 + deltaRADeg, Dec: dec0 + deltaDecDeg}
}

func roundHalfPixel(v float64) float64 {
	return math.Round(v*2) / 2
}

// Padding is the canvas extension spec.md §4.5.c step 7 applies before
// shifting and resampling, as (left, right, top, bottom); each side is
// sized on its own, so the extension is generally not symmetric.
type Padding struct {
	Left, Right, Top, Bottom int32
}

// ComputePadding derives the padding needed to accommodate every frame's
// shift plus the interpolation margin, per scenario 5: the margin is added
// to the side accommodating positive displacement (right, bottom) and,
// since bilinear sampling always needs a neighbor beyond the nearer edge
// too, to both vertical sides; the side with no displacement in a given
// direction needs no margin.
func ComputePadding(shifts []Shift) Padding {
	minDX, maxDX, minDY, maxDY := 0.0, 0.0, 0.0, 0.0
	for _, s := range shifts {
		if s.DX < minDX {
			minDX = s.DX
		}
		if s.DX > maxDX {
			maxDX = s.DX
		}
		if s.DY < minDY {
			minDY = s.DY
		}
		if s.DY > maxDY {
			maxDY = s.DY
		}
	}
	return Padding{
		Left:   int32(math.Ceil(math.Max(0, -minDX))),
		Right:  int32(math.Ceil(math.Max(0, maxDX))) + interpolationMargin,
		Top:    int32(math.Ceil(math.Max(0, -minDY))) + interpolationMargin,
		Bottom: int32(math.Ceil(math.Max(0, maxDY))) + interpolationMargin,
	}
}

// ShiftAndPad resamples f onto a canvas enlarged by pad and translated by
// shift, filling newly exposed pixels with f's minimum finite value, per
// spec.md §4.5.c step 7. Reuses internal/align's bilinear resampler, which
// already implements the same "invert transform, sample source,
// interpolate" shape this operation needs.
func ShiftAndPad(f *fits.Frame, shift Shift, pad Padding) *fits.Frame {
	destW := f.Width() + pad.Left + pad.Right
	destH := f.Height() + pad.Top + pad.Bottom
	inverse := func(dx, dy float64) (float64, float64) {
		return dx - float64(pad.Left) - shift.DX, dy - float64(pad.Top) - shift.DY
	}
	data := align.BilinearResample(f.Data, f.Width(), f.Height(), destW, destH, inverse, align.MinFiniteValue(f.Data))
	out := fits.NewFrameLike(f, data)
	out.Naxisn = []int32{destW, destH}
	out.Pixels = destW * destH
	return out
}

// Crop extracts the original width x height region back out of a padded
// canvas at (pad.Left, pad.Top), per spec.md §4.5.c step 9.
func Crop(data []float32, canvasW int32, pad Padding, width, height int32) []float32 {
	out := make([]float32, int(width)*int(height))
	for y := int32(0); y < height; y++ {
		srcRow := (y + pad.Top) * canvasW
		copy(out[y*width:(y+1)*width], data[srcRow+pad.Left:srcRow+pad.Left+width])
	}
	return out
}

// Inverse implements spec.md §4.5.d: given a pixel cursor in a
// motion-tracked stack, return the corresponding pixel (and, when the input
// carried a WCS, world coordinate) for every contributing input. No
// interpolation is performed; the math is the exact inverse of step 7's
// translation: original = cursor - shift.
func Inverse(cursor wcs.Pixel, shifts []Shift, inputWCS []*wcs.WCS) []InverseResult {
	out := make([]InverseResult, len(shifts))
	for i, s := range shifts {
		p := wcs.Pixel{X: cursor.X - s.DX, Y: cursor.Y - s.DY}
		r := InverseResult{Pixel: p}
		if i < len(inputWCS) && inputWCS[i] != nil {
			eq := inputWCS[i].PixelToEquatorial(p.X, p.Y)
			r.World = &eq
		}
		out[i] = r
	}
	return out
}

// InverseResult is one contributing input's mapped-back coordinate.
type InverseResult struct {
	Pixel wcs.Pixel
	World *wcs.Equatorial
}
