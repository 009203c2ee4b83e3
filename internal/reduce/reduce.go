// Package reduce implements the per-pixel-stack reduction shared by the
// calibration master builder and the stacker: gather each pixel's values
// across a set of frames, optionally sigma-clip by iterative median/MAD
// rejection, then apply mean, median, or sum to the survivors. Grounded in
// the teacher's internal/ops/stack/stack.go StackMean/StackMedian/
// StackMADSigma family, generalized into one operator-parameterized pass.
package reduce

import (
	"math"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/qsort"
)

// maxClipIterations bounds the sigma-clip loop, per spec.md §4.5.a ("repeat
// until the rejected set stabilizes or an iteration cap is reached").
const maxClipIterations = 10

// Stripe reduces a pixel stripe: lightsData[i] holds frame i's samples for
// the stripe, all the same length as res. NaN values are skipped, the way
// a newly exposed, unfilled pixel would be (infinities are kept); a pixel
// with no non-NaN input falls back to fillValue. Returns the total rejected-low and
// rejected-high counts across the stripe.
func Stripe(lightsData [][]float32, op config.ReduceOp, sigmaClip bool, sigmaLow, sigmaHigh float32, fillValue float32, res []float32) (rejectedLow, rejectedHigh int64) {
	gatheredFull := make([]float32, len(lightsData))
	adFull := make([]float32, len(lightsData))

	for i := range res {
		numGathered := 0
		for li := range lightsData {
			v := lightsData[li][i]
			if !math.IsNaN(float64(v)) {
				gatheredFull[numGathered] = v
				numGathered++
			}
		}
		if numGathered == 0 {
			res[i] = fillValue
			continue
		}
		gathered := gatheredFull[:numGathered]

		if sigmaClip {
			gathered = clipByMedianMAD(gathered, adFull[:numGathered], sigmaLow, sigmaHigh, &rejectedLow, &rejectedHigh)
		}

		res[i] = apply(op, gathered)
	}
	return rejectedLow, rejectedHigh
}

// clipByMedianMAD iteratively rejects values outside
// [median-sigmaLow*MAD, median+sigmaHigh*MAD], re-estimating median and MAD
// from the survivors each round, until nothing more is rejected, three or
// fewer samples remain, or the iteration cap is hit.
func clipByMedianMAD(gathered, adScratch []float32, sigmaLow, sigmaHigh float32, rejectedLow, rejectedHigh *int64) []float32 {
	for iter := 0; iter < maxClipIterations && len(gathered) > 3; iter++ {
		median := qsort.QSelectMedianFloat32(append([]float32(nil), gathered...))

		ad := adScratch[:len(gathered)]
		for i, g := range gathered {
			d := g - median
			if d < 0 {
				d = -d
			}
			ad[i] = d
		}
		mad := qsort.QSelectMedianFloat32(append([]float32(nil), ad...)) * 1.4826

		lowBound := median - sigmaLow*mad
		highBound := median + sigmaHigh*mad

		kept := 0
		rejectedThisRound := int64(0)
		for j := 0; j < len(gathered); j++ {
			g := gathered[j]
			switch {
			case g < lowBound:
				*rejectedLow++
				rejectedThisRound++
			case g > highBound:
				*rejectedHigh++
				rejectedThisRound++
			default:
				gathered[kept] = g
				kept++
			}
		}
		gathered = gathered[:kept]
		if rejectedThisRound == 0 {
			break
		}
	}
	return gathered
}

func apply(op config.ReduceOp, survivors []float32) float32 {
	switch op {
	case config.ReduceMedian:
		return qsort.QSelectMedianFloat32(append([]float32(nil), survivors...))
	case config.ReduceSum:
		sum := float32(0)
		for _, v := range survivors {
			sum += v
		}
		return sum
	default: // config.ReduceMean
		sum := float32(0)
		for _, v := range survivors {
			sum += v
		}
		return sum / float32(len(survivors))
	}
}

// StripeRows computes how many rows of an H x W float32 stack fit within
// memLimit bytes given numFrames source buffers plus one output buffer, the
// same budget-driven chunking the teacher's OpStack.Apply applies to 8 MB
// work packages, generalized to a caller-supplied memory budget.
func StripeRows(numFrames int, width, height int32, memLimit int64) int32 {
	if height <= 0 {
		return 0
	}
	bytesPerRow := int64(width) * 4 * int64(numFrames+1)
	if bytesPerRow <= 0 || memLimit <= 0 {
		return height
	}
	rows := int32(memLimit / bytesPerRow)
	if rows < 1 {
		rows = 1
	}
	if rows > height {
		rows = height
	}
	return rows
}
