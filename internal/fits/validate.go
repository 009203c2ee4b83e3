// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"io"

	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/stats"
	"github.com/skystack/core/internal/wcs"
)

const (
	minAxisSize    = 100
	minStdDev      = 1.0
	tooDarkMean    = 10.0
	tooDarkMax     = 50.0
)

// ValidationReport summarizes a frame's shape, basic statistics, and WCS
// status, per spec.md §4.1.
type ValidationReport struct {
	Width, Height int32
	Min, Max, Mean, StdDev float32
	HasWCS   bool
	PlateScaleX, PlateScaleY float64 // arcsec/pixel, zero if HasWCS is false
	FieldCenter wcs.Equatorial       // zero value if undeterminable
	HasFieldCenter bool
}

// Load reads and validates a container, rejecting frames that fail any of
// the basic sanity checks spec.md §4.1 enumerates. Data is converted to
// float32 on load (done unconditionally in read.go). logWriter may be nil.
func Load(path string, id int, logWriter io.Writer) (*Frame, error) {
	f, err := ReadFile(path, id, logWriter)
	if err != nil {
		return nil, err
	}
	if err := f.checkSanity(); err != nil {
		return nil, err
	}
	return f, nil
}

// checkSanity enforces spec.md §4.1's TooSmall/NoContrast/TooDark checks.
func (f *Frame) checkSanity() error {
	if f.Width() < minAxisSize || f.Height() < minAxisSize {
		return corefail.New(corefail.TooSmall, f.FileName,
			"frame is %dx%d, smaller than the %d px minimum axis", f.Width(), f.Height(), minAxisSize)
	}

	s := stats.New(f.Data, stats.MeanStdDevEstimator)
	min, max, mean, stdDev := s.Min(), s.Max(), s.Mean(), s.StdDev()

	if min == max || stdDev < minStdDev {
		return corefail.New(corefail.NoContrast, f.FileName,
			"frame has no usable contrast (min=%.3f max=%.3f stddev=%.3f)", min, max, stdDev)
	}
	if mean < tooDarkMean && max < tooDarkMax {
		return corefail.New(corefail.TooDark, f.FileName,
			"frame is too dark (mean=%.3f max=%.3f)", mean, max)
	}
	return nil
}

// Validate reports shape, basic statistics, WCS presence, plate scale, and
// field center for a loaded frame, per spec.md §4.1's validate() operation.
// Field center is the reference-pixel world coordinate if the frame carries
// a WCS, otherwise derived from ad-hoc RA/Dec header keys when present.
func (f *Frame) Validate() ValidationReport {
	s := stats.New(f.Data, stats.MeanStdDevEstimator)
	report := ValidationReport{
		Width: f.Width(), Height: f.Height(),
		Min: s.Min(), Max: s.Max(), Mean: s.Mean(), StdDev: s.StdDev(),
	}

	if f.WCS != nil {
		report.HasWCS = true
		report.PlateScaleX, report.PlateScaleY = f.WCS.PlateScale()
		report.FieldCenter = f.WCS.PixelToEquatorial(float64(f.WCS.CRPIX1), float64(f.WCS.CRPIX2))
		report.HasFieldCenter = true
		return report
	}

	if ra, ok := f.Header.Floats["RA"]; ok {
		if dec, ok := f.Header.Floats["DEC"]; ok {
			report.FieldCenter = wcs.Equatorial{RA: float64(ra), Dec: float64(dec)}
			report.HasFieldCenter = true
		}
	}
	return report
}
