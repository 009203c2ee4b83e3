// Package calibrate applies bias/dark/flat calibration to a single Light
// frame, generalized from two fixed override frames into library lookup
// plus optional per-call overrides.
package calibrate

import (
	"encoding/json"
	"math"

	"github.com/skystack/core/internal/calib"
	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/median"
	"github.com/skystack/core/internal/stats"
)

// flatEpsilon is the smallest flat-field value the division guard allows,
// guarding against division by zero by clamping flat values below a small
// positive epsilon.
const flatEpsilon = 1e-6

// Steps selects which calibration stages run; each defaults to on.
type Steps struct {
	Bias     bool
	Dark     bool
	Flat     bool
	BadPixel bool // replaces an outlier pixel with its median-filtered neighborhood value
}

// DefaultSteps returns every step enabled.
func DefaultSteps() Steps {
	return Steps{Bias: true, Dark: true, Flat: true, BadPixel: true}
}

// Overrides lets a caller bypass library lookup with specific masters.
type Overrides struct {
	Bias *calib.Master
	Dark *calib.Master
	Flat *calib.Master
}

// Calibrate returns a new Frame with the selected steps applied, using cfg
// for the bad-pixel scrub thresholds; it never mutates frame. A missing
// master for a selected step is a soft failure: the step is skipped and an
// annotation is appended to the result's metadata. A shape or unit
// mismatch (ShapeMismatch) aborts with an error.
func Calibrate(frame *fits.Frame, steps Steps, overrides Overrides, lib *calib.Library, cfg config.Config) (*fits.Frame, error) {
	out := fits.NewFrameLike(frame, append([]float32(nil), frame.Data...))
	var skipped []string

	if steps.Bias {
		bias := overrides.Bias
		ok := bias != nil
		if bias == nil {
			bias, ok = lib.FindBias(frame)
		}
		if !ok {
			skipped = append(skipped, "bias: no matching master")
		} else {
			if err := checkShape(out, bias.Frame); err != nil {
				return nil, err
			}
			for i, v := range out.Data {
				out.Data[i] = v - bias.Data[i]
			}
		}
	}

	if steps.Dark {
		dark := overrides.Dark
		exact := true
		ok := dark != nil
		if dark == nil {
			dark, exact, ok = lib.FindDark(frame)
		} else {
			exact = math.Abs(float64(frame.Exposure-dark.Exposure)) <= cfg.ExposureTolerance
		}
		if !ok {
			skipped = append(skipped, "dark: no matching master")
		} else {
			if err := checkShape(out, dark.Frame); err != nil {
				return nil, err
			}
			calib.SubtractDark(out.Data, frame.Exposure, dark, exact)
		}
	}

	if steps.Flat {
		flat := overrides.Flat
		ok := flat != nil
		if flat == nil {
			flat, ok = lib.FindFlat(frame)
		}
		if !ok {
			skipped = append(skipped, "flat: no matching master")
		} else {
			if err := checkShape(out, flat.Frame); err != nil {
				return nil, err
			}
			for i, v := range out.Data {
				denom := flat.Data[i]
				if denom < flatEpsilon {
					denom = flatEpsilon
				}
				out.Data[i] = v / denom
			}
		}
	}

	if steps.BadPixel {
		scrubBadPixels(out, cfg.BadPixelSigmaLow, cfg.BadPixelSigmaHigh)
	}

	if len(skipped) > 0 {
		if b, err := json.Marshal(skipped); err == nil {
			out.Header.Strings["CALIB_WARNINGS"] = string(b)
		}
	}
	return out, nil
}

// checkShape enforces the hard ShapeMismatch failure: the calibration
// master must share the light frame's pixel dimensions.
func checkShape(light, master *fits.Frame) error {
	if !fits.EqualInt32Slice(light.Naxisn, master.Naxisn) {
		return corefail.New(corefail.ShapeMismatch, light.FileName,
			"light is %s but master is %s", light.DimensionsToString(), master.DimensionsToString())
	}
	return nil
}

// scrubBadPixels replaces any pixel whose deviation from its 3x3
// median-filtered neighborhood exceeds sigmaLow/sigmaHigh * noise with the
// filtered value.
func scrubBadPixels(f *fits.Frame, sigmaLow, sigmaHigh float32) {
	if f.Width() < 3 || f.Height() < 3 {
		return
	}
	filtered := make([]float32, len(f.Data))
	median.MedianFilter3x3(filtered, f.Data, f.Width())

	diffs := make([]float32, len(f.Data))
	for i, v := range f.Data {
		d := v - filtered[i]
		if d < 0 {
			d = -d
		}
		diffs[i] = d
	}
	_, noise := stats.SigmaClippedMedianAndMAD(append([]float32(nil), diffs...), 3, 3)
	if noise <= 0 {
		return
	}
	for i := range f.Data {
		if f.Data[i]-filtered[i] > sigmaHigh*noise || filtered[i]-f.Data[i] > sigmaLow*noise {
			f.Data[i] = filtered[i]
		}
	}
}
