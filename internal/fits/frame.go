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

// Package fits reads and writes the standard astronomical image container:
// an 80-column ASCII header followed by a binary data unit. It is the
// container format described in spec.md §6.
package fits

import (
	"fmt"
	"strings"

	"github.com/skystack/core/internal/wcs"
)

// FrameKind tags the role a Frame plays in the pipeline.
type FrameKind int

const (
	Light FrameKind = iota
	Bias
	Dark
	Flat
	MasterBias
	MasterDark
	MasterFlat
)

func (k FrameKind) String() string {
	switch k {
	case Light:
		return "Light"
	case Bias:
		return "Bias"
	case Dark:
		return "Dark"
	case Flat:
		return "Flat"
	case MasterBias:
		return "Master Bias"
	case MasterDark:
		return "Master Dark"
	case MasterFlat:
		return "Master Flat"
	default:
		return "Unknown"
	}
}

// ParseFrameKind maps a FITS FRAME/IMAGETYP header value to a FrameKind.
func ParseFrameKind(s string) (FrameKind, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "light", "object":
		return Light, true
	case "bias", "zero":
		return Bias, true
	case "dark":
		return Dark, true
	case "flat", "flat field":
		return Flat, true
	case "master bias", "masterbias":
		return MasterBias, true
	case "master dark", "masterdark":
		return MasterDark, true
	case "master flat", "masterflat":
		return MasterFlat, true
	default:
		return Light, false
	}
}

// Fingerprint is the derivable key spec.md §3 defines for matching frames
// against calibration masters and for grouping a raw sequence.
type Fingerprint struct {
	Kind     FrameKind
	BinX     int32
	BinY     int32
	Gain     float32
	Offset   float32
	Filter   string
	Exposure float32
	TempC    float32
	Width    int32
	Height   int32
}

// Frame is a single exposure: a 2D array of float32 ADU samples, its header
// metadata, and an optional WCS descriptor. Frames are never mutated in
// place once loaded; Calibrator and Aligner always return a new Frame.
type Frame struct {
	ID       int    // sequential ID, for log output and stable indexing
	FileName string // original file name, if any

	Header Header

	Bitpix int32
	Bzero  float32
	Bscale float32

	Naxisn []int32 // axis dimensions, fastest-varying first (X, Y)
	Pixels int32

	Data []float32

	Kind     FrameKind
	Exposure float32 // seconds

	WCS *wcs.WCS // nil if the frame carries no world-coordinate system
}

// NewFrame returns an empty Frame with an initialized header.
func NewFrame() *Frame {
	return &Frame{Header: NewHeader(), Bscale: 1}
}

// NewFrameLike allocates a new Frame with the same shape, kind, exposure and
// header as src but a fresh, independent data buffer (zeroed unless data is
// supplied). This is how Calibrator and Aligner produce an output Frame
// without mutating their input.
func NewFrameLike(src *Frame, data []float32) *Frame {
	if data == nil {
		data = make([]float32, src.Pixels)
	}
	var w *wcs.WCS
	if src.WCS != nil {
		cp := *src.WCS
		w = &cp
	}
	return &Frame{
		ID:       src.ID,
		FileName: src.FileName,
		Header:   src.Header.Clone(),
		Bitpix:   -32,
		Bzero:    0,
		Bscale:   1,
		Naxisn:   append([]int32(nil), src.Naxisn...),
		Pixels:   src.Pixels,
		Data:     data,
		Kind:     src.Kind,
		Exposure: src.Exposure,
		WCS:      w,
	}
}

// Width and Height return the frame's first two axis extents. The pipeline
// only operates on 2D frames (enforced at load time), so these are safe
// once a Frame has passed FrameLoader validation.
func (f *Frame) Width() int32 {
	if len(f.Naxisn) < 1 {
		return 0
	}
	return f.Naxisn[0]
}

func (f *Frame) Height() int32 {
	if len(f.Naxisn) < 2 {
		return 0
	}
	return f.Naxisn[1]
}

func (f *Frame) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// EqualInt32Slice tells whether a and b contain the same elements. A nil
// argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// Fingerprint derives the matching key spec.md §3 defines, reading the
// relevant values out of the frame's header and kind.
func (f *Frame) Fingerprint() Fingerprint {
	num := func(key string) float32 {
		if v, ok := f.Header.Floats[key]; ok {
			return v
		}
		return float32(f.Header.Ints[key])
	}
	gain := num("GAIN")
	offset := num("OFFSET")
	filter := f.Header.Strings["FILTER"]
	tempC := num("CCD-TEMP")
	binX, okX := f.Header.Ints["XBINNING"]
	if !okX {
		binX = 1
	}
	binY, okY := f.Header.Ints["YBINNING"]
	if !okY {
		binY = 1
	}
	return Fingerprint{
		Kind:     f.Kind,
		BinX:     binX,
		BinY:     binY,
		Gain:     gain,
		Offset:   offset,
		Filter:   filter,
		Exposure: f.Exposure,
		TempC:    tempC,
		Width:    f.Width(),
		Height:   f.Height(),
	}
}

// NxNBinned returns a new Frame binned by factor n in both axes, the way
// the teacher's NewImageBinNxN does it. spec.md §3 requires that, within a
// Sequence, all frames share identical dimensions after any binning step;
// this is the operation that establishes that invariant.
func (f *Frame) NxNBinned(n int32) *Frame {
	if n <= 1 {
		return f
	}
	binnedNaxisn := make([]int32, len(f.Naxisn))
	binnedPixels := int32(1)
	for i, orig := range f.Naxisn {
		bn := orig / n
		binnedNaxisn[i] = bn
		binnedPixels *= bn
	}
	out := NewFrameLike(f, make([]float32, binnedPixels))
	out.Naxisn = binnedNaxisn
	out.Pixels = binnedPixels

	normalizer := 1.0 / float32(n*n)
	width := f.Naxisn[0]
	outWidth := binnedNaxisn[0]
	for y := int32(0); y < binnedNaxisn[1]; y++ {
		for x := int32(0); x < outWidth; x++ {
			sum := float32(0)
			for yo := int32(0); yo < n; yo++ {
				for xo := int32(0); xo < n; xo++ {
					sum += f.Data[(y*n+yo)*width+(x*n+xo)]
				}
			}
			out.Data[y*outWidth+x] = sum * normalizer
		}
	}
	return out
}
