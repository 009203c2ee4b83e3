package align

import "math"

// BilinearResample produces a destW x destH image: for every destination
// pixel, inverse maps it into the source's pixel space and bilinearly
// interpolates. Destination pixels whose inverse mapping falls outside the
// source are filled with outOfBounds; a mapping within edgeTolerance of the
// source edge is sampled at the edge. This is the resampling technique
// shared by the reprojection aligner, the asterism aligner, and the
// motion-tracking shifter.
func BilinearResample(src []float32, srcW, srcH, destW, destH int32, inverse func(dx, dy float64) (sx, sy float64), outOfBounds float32) []float32 {
	out := make([]float32, int(destW)*int(destH))
	for y := int32(0); y < destH; y++ {
		for x := int32(0); x < destW; x++ {
			sx, sy := inverse(float64(x), float64(y))
			out[y*destW+x] = sampleBilinear(src, srcW, srcH, sx, sy, outOfBounds)
		}
	}
	return out
}

// edgeTolerance is how far (in pixels) a mapped coordinate may lie outside
// the source and still be sampled at the edge, absorbing round-off from a
// world-coordinate round trip.
const edgeTolerance = 1e-6

func sampleBilinear(src []float32, width, height int32, x, y float64, outOfBounds float32) float32 {
	maxX, maxY := float64(width-1), float64(height-1)
	if x < -edgeTolerance || y < -edgeTolerance || x > maxX+edgeTolerance || y > maxY+edgeTolerance {
		return outOfBounds
	}
	x, y = math.Min(math.Max(x, 0), maxX), math.Min(math.Max(y, 0), maxY)
	x0, y0 := int32(math.Floor(x)), int32(math.Floor(y))
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))
	x1, y1 := x0+1, y0+1
	if x1 >= width {
		x1 = width - 1
	}
	if y1 >= height {
		y1 = height - 1
	}

	v00 := src[y0*width+x0]
	v10 := src[y0*width+x1]
	v01 := src[y1*width+x0]
	v11 := src[y1*width+x1]

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

// MinFiniteValue returns the smallest non-NaN, non-infinite value in data,
// or 0 if none exists. Used to fill newly exposed pixels after a resample.
func MinFiniteValue(data []float32) float32 {
	min := float32(math.Inf(1))
	for _, v := range data {
		if !math.IsInf(float64(v), 0) && !math.IsNaN(float64(v)) && v < min {
			min = v
		}
	}
	if math.IsInf(float64(min), 1) {
		return 0
	}
	return min
}
