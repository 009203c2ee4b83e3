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

// Package stats computes lazily-cached frame statistics (min/max/mean/
// stddev, and a robust location/scale estimate) plus a sigma-clipped
// median/MAD routine used for whole-image background and noise estimates.
package stats

import (
	"fmt"
	"math"
	"strings"

	"github.com/skystack/core/internal/qsort"
	"github.com/valyala/fastrand"
)

// Estimator selects the algorithm Stats.Location/Stats.Scale use. Unlike
// the package this was ported from, this is a field on Stats rather than a
// package-level global, so concurrent callers computing stats for different
// frames under different estimator choices do not stomp on each other.
type Estimator int

const (
	MeanStdDevEstimator Estimator = iota
	MedianMADEstimator
	IKSSEstimator
	SigmaClippedMedianQnEstimator
	HistogramEstimator
)

// Stats computes statistics on a data array on demand, caching results.
type Stats struct {
	data []float32

	estimator Estimator

	min, max, mean float32
	stdDev         float32
	location       float32
	scale          float32

	haveMMM      bool
	haveStdDev   bool
	haveLocScale bool
}

// New returns Stats over d, using estimator for Location/Scale.
func New(d []float32, estimator Estimator) *Stats {
	return &Stats{data: d, estimator: estimator}
}

// NewWithMMM returns Stats with min/mean/max pre-supplied (e.g. known from
// an earlier pass), avoiding a redundant full-array scan.
func NewWithMMM(d []float32, min, max, mean float32) *Stats {
	return &Stats{data: d, min: min, max: max, mean: mean, haveMMM: true}
}

func (s *Stats) Min() float32 {
	s.ensureMMM()
	return s.min
}

func (s *Stats) Max() float32 {
	s.ensureMMM()
	return s.max
}

func (s *Stats) Mean() float32 {
	s.ensureMMM()
	return s.mean
}

func (s *Stats) ensureMMM() {
	if !s.haveMMM {
		if s.data == nil {
			panic("cannot calculate stats on nil data")
		}
		s.min, s.mean, s.max = calcMinMeanMax(s.data)
		s.haveMMM = true
	}
}

func (s *Stats) StdDev() float32 {
	if !s.haveStdDev {
		if s.data == nil {
			panic("cannot calculate stats on nil data")
		}
		variance := calcVariance(s.data, s.Mean())
		s.stdDev = float32(math.Sqrt(variance))
		s.haveStdDev = true
	}
	return s.stdDev
}

func (s *Stats) Location() float32 {
	s.ensureLocScale()
	return s.location
}

func (s *Stats) Scale() float32 {
	s.ensureLocScale()
	return s.scale
}

func (s *Stats) ensureLocScale() {
	if s.haveLocScale {
		return
	}
	if s.data == nil {
		panic("cannot calculate stats on nil data")
	}
	const numSamples = 128 * 1024
	switch s.estimator {
	case MeanStdDevEstimator:
		s.location, s.scale = s.Mean(), s.StdDev()
	case MedianMADEstimator:
		samples := make([]float32, numSamples)
		s.location = FastApproxMedian(s.data, samples)
		s.scale = FastApproxMAD(s.data, s.location, samples)
	case IKSSEstimator:
		s.location, s.scale = IKSS(s.data, 1e-6, float32(math.Pow(2, -23)))
	case SigmaClippedMedianQnEstimator:
		s.location, s.scale = FastApproxSigmaClippedMedianAndQn(s.data, 2, 2, (s.Max()-s.Min())/65535.0, numSamples)
	case HistogramEstimator:
		s.location, s.scale = HistogramScaleLoc(s.data, s.Min(), s.Max(), 4096)
	}
	s.haveLocScale = true
}

// String pretty-prints whichever statistics have already been computed,
// without forcing computation of the rest.
func (s *Stats) String() string {
	precision := 6
	if s.haveMMM {
		switch {
		case s.max >= 1000000:
			precision = 0
		case s.max >= 100000:
			precision = 1
		case s.max >= 10000:
			precision = 2
		case s.max >= 1000:
			precision = 3
		case s.max > 100:
			precision = 4
		case s.max > 10:
			precision = 5
		}
	}
	b := strings.Builder{}
	space := ""
	if s.haveMMM {
		fmt.Fprintf(&b, "Min %.*f Max %.*f Mean %.*f", precision, s.min, precision, s.max, precision, s.mean)
		space = " "
	}
	if s.haveStdDev {
		fmt.Fprintf(&b, "%sStdDev %.*f", space, precision, s.stdDev)
		space = " "
	}
	if s.haveLocScale {
		fmt.Fprintf(&b, "%sLocation %.*f Scale %.*f", space, precision, s.location, precision, s.scale)
	}
	if b.Len() == 0 {
		return "(no stats yet)"
	}
	return b.String()
}

func MeanStdDev(xs []float32) (mean, stdDev float32) {
	sum := float32(0)
	for _, x := range xs {
		sum += x
	}
	mean = sum / float32(len(xs))
	variance := float32(0)
	for _, x := range xs {
		diff := x - mean
		variance += diff * diff
	}
	variance /= float32(len(xs))
	return mean, float32(math.Sqrt(float64(variance)))
}

func calcMinMeanMaxPureGo(data []float32) (min, mean, max float32) {
	mmin, msum, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		msum += float64(v)
	}
	return mmin, float32(msum / float64(len(data))), mmax
}

func calcVariancePureGo(data []float32, mean float32) float64 {
	variance := float64(0)
	for _, v := range data {
		diff := float64(v - mean)
		variance += diff * diff
	}
	return variance / float64(len(data))
}

// SigmaClippedMedianAndMAD returns the sigma-clipped median of data and the
// scaled MAD of all of data around that median. Each round rejects values
// farther from the current median than sigma times 1.134 times the standard
// deviation about the median, iterating until no value is rejected or three
// or fewer samples remain. Used by the asterism aligner's background
// estimate and the calibrator's bad-pixel scrub; the per-pixel-stack
// rejection of the stacker and master builder is internal/reduce's
// median/MAD clip. Does not modify data.
func SigmaClippedMedianAndMAD(data []float32, sigmaLow, sigmaHigh float32) (median, mad float32) {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	remaining := tmp
	for {
		median = qsort.QSelectMedianFloat32(remaining)

		variance := float32(0)
		for _, r := range remaining {
			diff := r - median
			variance += diff * diff
		}
		variance /= float32(len(remaining))
		stdDev := float32(math.Sqrt(float64(variance))) * 1.134

		lowBound := median - sigmaLow*stdDev
		highBound := median + sigmaHigh*stdDev
		kept := 0
		for i := 0; i < len(remaining); i++ {
			r := remaining[i]
			if r >= lowBound && r <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]

		if rejected == 0 || len(remaining) <= 3 {
			absDiff := make([]float32, len(data))
			for i, d := range data {
				absDiff[i] = float32(math.Abs(float64(d - median)))
			}
			mad = qsort.QSelectMedianFloat32(absDiff) * 1.4826
			return median, mad
		}
	}
}

// FastApproxMedian estimates the median of (presumably large) data by
// subsampling into samples and quickselecting that.
func FastApproxMedian(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// FastApproxBoundedMedian is FastApproxMedian restricted to samples within
// [lowBound, highBound].
func FastApproxBoundedMedian(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d float32
		for {
			d = data[rng.Uint32n(max)]
			if d >= lowBound && d <= highBound {
				break
			}
		}
		samples[i] = d
	}
	return qsort.QSelectMedianFloat32(samples)
}

// FastApproxMAD estimates the median absolute deviation from location by
// subsampling numSamples values, normalized to a Gaussian std dev.
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = float32(math.Abs(float64(data[rng.Uint32n(max)] - location)))
	}
	return qsort.QSelectMedianFloat32(samples) * 1.4826
}

// FastApproxQn estimates the Qn robust scale statistic of data by
// subsampling pairs, normalized to a Gaussian std dev for large sample
// counts. See Croux & Rousseeuw, "Time-Efficient Algorithms for Two Highly
// Robust Estimators of Scale".
func FastApproxQn(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		index1 := 1 + rng.Uint32n(max-1)
		index2 := rng.Uint32n(index1)
		samples[i] = float32(math.Abs(float64(data[index1] - data[index2])))
	}
	return qsort.QSelectFirstQuartileFloat32(samples) * 2.21914
}

// FastApproxBoundedQn is FastApproxQn restricted to samples within
// [lowBound, highBound].
func FastApproxBoundedQn(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d1, d2 float32
		for {
			index1 := 1 + rng.Uint32n(max-1)
			d1 = data[index1]
			if d1 < lowBound || d1 > highBound {
				continue
			}
			d2 = data[rng.Uint32n(index1)]
			if d2 >= lowBound && d2 <= highBound {
				break
			}
		}
		samples[i] = float32(math.Abs(float64(d1 - d2)))
	}
	return qsort.QSelectFirstQuartileFloat32(samples) * 2.21914
}

// FastApproxSigmaClippedMedianAndQn is a rapid robust location/scale
// estimator: an approximate median, iteratively sigma-clipped with an
// approximate Qn, both from random sampling. Converges when the change in
// location and scale falls below epsilon, or after 10 iterations.
func FastApproxSigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh, epsilon float32, numSamples int) (location, scale float32) {
	samples := make([]float32, numSamples)
	location = FastApproxMedian(data, samples)
	scale = FastApproxQn(data, samples)

	for i := 0; ; i++ {
		lowBound := location - sigmaLow*scale
		highBound := location + sigmaHigh*scale

		newLocation := FastApproxBoundedMedian(data, lowBound, highBound, samples)
		newScale := FastApproxBoundedQn(data, lowBound, highBound, samples) * 1.134

		if float32(math.Abs(float64(newLocation-location))+math.Abs(float64(newScale-scale))) <= epsilon || i >= 10 {
			scale = FastApproxQn(data, samples)
			return location, scale
		}
		location, scale = newLocation, newScale
	}
}

// bwmv returns the biweight midvariance of xs around median. tmp must be at
// least len(xs) long and is used as scratch space.
func bwmv(xs []float32, median float32, tmp []float32) float32 {
	mads := tmp[:len(xs)]
	for i, x := range xs {
		mads[i] = float32(math.Abs(float64(x - median)))
	}
	mad := qsort.QSelectMedianFloat32(mads)

	ys := tmp[:len(xs)]
	for i, x := range xs {
		ys[i] = (x - median) / (9 * mad)
	}

	numSum, denomSum := float32(0), float32(0)
	for i, x := range xs {
		y := ys[i]
		in := float32(0)
		if y > -1 && y < 1 {
			in = 1
		}
		xMinusM := x - median
		oneMinusYSq := 1 - y*y
		oneMinusYSqSq := oneMinusYSq * oneMinusYSq
		numSum += in * xMinusM * xMinusM * oneMinusYSqSq * oneMinusYSqSq
		denomSum += in * oneMinusYSq * (1 - 5*y*y)
	}
	return float32(len(xs)) * numSum / (denomSum * denomSum)
}

// IKSS returns the iterative k-sigma location/scale estimate of data.
func IKSS(data []float32, epsilon, e float32) (location, scale float32) {
	xs := make([]float32, len(data))
	copy(xs, data)
	qsort.SortFloat32(xs)

	tmp := make([]float32, len(data))
	i, j := 0, len(xs)
	s0 := float32(1)
	for {
		if j-i < 1 {
			return 0, 0
		}
		m := xs[(i+j)>>1]
		s := float32(math.Sqrt(float64(bwmv(xs[i:j], m, tmp))))
		if s < epsilon {
			return m, 0
		}
		if s0-s < s*epsilon {
			return m, 0.991 * s
		}
		s0 = s
		xlow, xhigh := m-4*s, m+4*s
		for xs[i] < xlow {
			i++
		}
		for xs[j-1] > xhigh {
			j--
		}
	}
}

// LinearRegression fits xs/ys with ordinary least squares.
func LinearRegression(xs, ys []float32) (slope, intercept, xmean, xstddev, ymean, ystddev float32) {
	xmean, xstddev = MeanStdDev(xs)
	ymean, ystddev = MeanStdDev(ys)

	corr := float32(0)
	for i := range xs {
		corr += (xs[i] - xmean) * (ys[i] - ymean)
	}
	corr /= xstddev * ystddev * (float32(len(xs)) + 1)

	slope = corr * ystddev / xstddev
	intercept = ymean - slope*xmean
	return slope, intercept, xmean, xstddev, ymean, ystddev
}

// HistogramScaleLoc estimates location and scale from a numBins-bin
// histogram of data: location is the peak bin, scale is the half-width
// needed to cumulate 68.27% of samples around it.
func HistogramScaleLoc(data []float32, min, max float32, numBins uint32) (loc, scale float32) {
	if min == max {
		return min, 0
	}
	bins := make([]uint32, numBins)
	valueToBin := float32(numBins-1) / (max - min)
	for _, d := range data {
		bin := uint32(((d - min) * valueToBin) + 0.5)
		bins[bin]++
	}

	peakBin, peakCount := uint32(0), uint32(0)
	for bin, count := range bins[1 : numBins-1] {
		if count > peakCount {
			peakBin, peakCount = uint32(bin+1), count
		}
	}
	loc = min + float32(peakBin)/valueToBin

	sigmaThreshold := uint32(float32(len(data)) * 0.6827)
	intervalLimit := peakBin
	if numBins-1-peakBin < intervalLimit {
		intervalLimit = numBins - 1 - peakBin
	}
	cum := peakCount
	scale = 0.5 / valueToBin

	if cum < sigmaThreshold {
		for i := uint32(1); i <= intervalLimit; i++ {
			cum = cum + bins[peakBin-i] + bins[peakBin+i]
			scale = 0.5 * float32(2*i+1) / valueToBin
			if cum >= sigmaThreshold {
				break
			}
		}
	}
	return loc, scale
}
