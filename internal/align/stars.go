package align

import (
	"math"
	"sort"

	"github.com/skystack/core/internal/stats"
)

// Star is a detected bright, compact source: its refined centroid, its
// background-subtracted integrated flux ("mass"), and its half-flux radius.
type Star struct {
	X, Y float32
	Mass float32
	HFR  float32
}

const starSearchRadius = 4

// backgroundStats estimates an image's background level and noise with
// stats.SigmaClippedMedianAndMAD, clipping at 3 sigma on both sides.
func backgroundStats(data []float32) (median, noise float32) {
	cp := append([]float32(nil), data...)
	return stats.SigmaClippedMedianAndMAD(cp, 3, 3)
}

// detectStars finds local maxima above background+sigma*noise, refines each
// by a few rounds of center-of-mass iteration, and returns them sorted by
// descending mass (threshold -> centroid refine -> half-flux radius).
func detectStars(data []float32, width, height int32, background, noise, sigma float32) []Star {
	threshold := background + sigma*noise
	radius := int32(starSearchRadius)
	visited := make([]bool, len(data))

	var stars []Star
	for y := radius; y < height-radius; y++ {
		for x := radius; x < width-radius; x++ {
			idx := y*width + x
			if visited[idx] || data[idx] < threshold {
				continue
			}
			if !isLocalMax(data, width, x, y, radius) {
				continue
			}
			star, ok := refineStar(data, width, height, x, y, radius, background)
			markVisited(visited, width, height, x, y, radius)
			if ok {
				stars = append(stars, star)
			}
		}
	}

	sort.Slice(stars, func(i, j int) bool { return stars[i].Mass > stars[j].Mass })
	return stars
}

func isLocalMax(data []float32, width, x, y, radius int32) bool {
	v := data[y*width+x]
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if data[(y+dy)*width+(x+dx)] > v {
				return false
			}
		}
	}
	return true
}

func markVisited(visited []bool, width, height, x, y, radius int32) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			yy, xx := y+dy, x+dx
			if yy >= 0 && yy < height && xx >= 0 && xx < width {
				visited[yy*width+xx] = true
			}
		}
	}
}

// refineStar iterates center-of-mass refinement up to 10 rounds, converging
// once the shift squared drops below 1e-4, then integrates flux and
// half-flux radius around the refined centroid.
func refineStar(data []float32, width, height int32, x0, y0, radius int32, background float32) (Star, bool) {
	cx, cy := float32(x0), float32(y0)

	for iter := 0; iter < 10; iter++ {
		ix, iy := int32(cx+0.5), int32(cy+0.5)
		if ix < radius || iy < radius || ix >= width-radius || iy >= height-radius {
			return Star{}, false
		}
		sumV, sumX, sumY := float32(0), float32(0), float32(0)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				v := data[(iy+dy)*width+(ix+dx)] - background
				if v <= 0 {
					continue
				}
				sumV += v
				sumX += v * float32(ix+dx)
				sumY += v * float32(iy+dy)
			}
		}
		if sumV <= 0 {
			return Star{}, false
		}
		nx, ny := sumX/sumV, sumY/sumV
		shiftSq := (nx-cx)*(nx-cx) + (ny-cy)*(ny-cy)
		cx, cy = nx, ny
		if shiftSq < 0.0001 {
			break
		}
	}

	ix, iy := int32(cx+0.5), int32(cy+0.5)
	if ix < radius || iy < radius || ix >= width-radius || iy >= height-radius {
		return Star{}, false
	}
	mass, hfr := massAndHFR(data, width, ix, iy, radius, background)
	if mass <= 0 {
		return Star{}, false
	}
	return Star{X: cx, Y: cy, Mass: mass, HFR: hfr}, true
}

// massAndHFR integrates background-subtracted flux within radius of (x,y)
// and finds the radius enclosing half of it.
func massAndHFR(data []float32, width, x, y, radius int32, background float32) (float32, float32) {
	type sample struct {
		r, v float32
	}
	var samples []sample
	total := float32(0)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			v := data[(y+dy)*width+(x+dx)] - background
			if v <= 0 {
				continue
			}
			r := float32(math.Sqrt(float64(dx*dx + dy*dy)))
			samples = append(samples, sample{r: r, v: v})
			total += v
		}
	}
	if total <= 0 {
		return 0, 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].r < samples[j].r })
	half := total / 2
	cum := float32(0)
	hfr := float32(radius)
	for _, s := range samples {
		cum += s.v
		if cum >= half {
			hfr = s.r
			break
		}
	}
	return total, hfr
}
