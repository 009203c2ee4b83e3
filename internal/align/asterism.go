package align

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/skystack/core/internal/corefail"
)

// triangle is a candidate asterism: three star indices plus the normalized
// edge-length descriptor used to match it against another frame's triangles.
type triangle struct {
	i, j, k    int
	descriptor Point3D
}

// triangleStarCount bounds how many of the brightest, spatially separated
// stars form the O(k^3) triangle set.
const triangleStarCount = 14

// minTriangleSeparation keeps picked stars from clustering in one bright
// group, so triangles span the field.
const minTriangleSeparation = 20

// buildTriangles forms every triangle among the brightest, separated stars
// and encodes each by its two smaller-to-larger edge-length ratios,
// invariant under rotation, translation, and isotropic scale.
func buildTriangles(stars []Star) []triangle {
	k := triangleStarCount
	if k > len(stars) {
		k = len(stars)
	}
	picked := pickBrightestDistant(stars, k)

	var tris []triangle
	for a := 0; a < len(picked); a++ {
		for b := a + 1; b < len(picked); b++ {
			for c := b + 1; c < len(picked); c++ {
				i, j, kk := picked[a], picked[b], picked[c]
				d, ok := triangleDescriptor(stars[i], stars[j], stars[kk])
				if ok {
					tris = append(tris, triangle{i: i, j: j, k: kk, descriptor: d})
				}
			}
		}
	}
	return tris
}

func pickBrightestDistant(stars []Star, k int) []int {
	var picked []int
	for i := 0; i < len(stars) && len(picked) < k; i++ {
		ok := true
		for _, p := range picked {
			dx, dy := stars[i].X-stars[p].X, stars[i].Y-stars[p].Y
			if dx*dx+dy*dy < minTriangleSeparation*minTriangleSeparation {
				ok = false
				break
			}
		}
		if ok {
			picked = append(picked, i)
		}
	}
	return picked
}

func triangleDescriptor(p1, p2, p3 Star) (Point3D, bool) {
	dAB, dAC, dBC := dist(p1, p2), dist(p1, p3), dist(p2, p3)
	if dAB > dAC {
		dAB, dAC = dAC, dAB
	}
	if dAC > dBC {
		dAC, dBC = dBC, dAC
	}
	if dAB > dAC {
		dAB, dAC = dAC, dAB
	}
	if dBC == 0 {
		return Point3D{}, false
	}
	return Point3D{X: dAB / dBC, Y: dAC / dBC}, true
}

func dist(a, b Star) float32 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return float32(math.Sqrt(float64(dx*dx + dy*dy)))
}

const triangleMatchTolerance = 0.01 // squared descriptor-space distance
const matchShortlist = 8            // candidate correspondences refined before accepting the best
const matchPixelTolerance = 64      // squared pixel distance (8px)
const goodEnoughResidual = 0.01     // mean residual (px) below which refinement stops early

// matchAsterism finds the affine transform mapping a target frame's stars
// onto refStars, or reports NoMatchableFeatures, by matching triangle
// descriptors via nearest-neighbor in descriptor space and refining the best
// correspondence's affine fit against every star. The fit has all six
// affine parameters free; it is not constrained to a similarity.
func matchAsterism(refStars, stars []Star, refTriangles []triangle) (Transform2D, float64, error) {
	if len(refStars) < 3 || len(stars) < 3 {
		return Transform2D{}, 0, corefail.New(corefail.NoMatchableFeatures, "",
			"fewer than 3 detected stars to form a triangle")
	}

	tris := buildTriangles(stars)
	if len(tris) == 0 || len(refTriangles) == 0 {
		return Transform2D{}, 0, corefail.New(corefail.NoMatchableFeatures, "",
			"no triangles could be formed from detected stars")
	}

	payload := make([]Point3DPayload, len(refTriangles))
	for i, t := range refTriangles {
		payload[i] = Point3DPayload{Point3D: t.descriptor, Payload: t}
	}
	tree := MakeKDTree3P(payload)

	type candidate struct {
		t   Transform2D
		res float64
	}
	var best *candidate
	tried := 0

	for _, tri := range tris {
		if tried >= matchShortlist {
			break
		}
		idx, dsq := tree.NearestNeighbor(tri.descriptor)
		if idx < 0 || dsq > triangleMatchTolerance {
			continue
		}
		refTri := tree[idx].Payload.(triangle)
		tried++

		p1 := Point2D{X: stars[tri.i].X, Y: stars[tri.i].Y}
		p2 := Point2D{X: stars[tri.j].X, Y: stars[tri.j].Y}
		p3 := Point2D{X: stars[tri.k].X, Y: stars[tri.k].Y}
		p1p := Point2D{X: refStars[refTri.i].X, Y: refStars[refTri.i].Y}
		p2p := Point2D{X: refStars[refTri.j].X, Y: refStars[refTri.j].Y}
		p3p := Point2D{X: refStars[refTri.k].X, Y: refStars[refTri.k].Y}

		t, err := NewTransform2D(p1, p2, p3, p1p, p2p, p3p)
		if err != nil {
			continue
		}

		refined, res := refineTransform(t, stars, refStars)
		if best == nil || res < best.res {
			best = &candidate{t: refined, res: res}
		}
		if best.res < goodEnoughResidual {
			break
		}
	}

	if best == nil {
		return Transform2D{}, 0, corefail.New(corefail.NoMatchableFeatures, "",
			"no triangle correspondence matched within tolerance")
	}
	return best.t, best.res, nil
}

// refineTransform polishes an initial 3-point affine fit by minimizing the
// mean nearest-neighbor residual between every transformed star and the
// reference stars, using gonum's Nelder-Mead.
func refineTransform(initial Transform2D, stars, refStars []Star) (Transform2D, float64) {
	refPts := make([]Point2D, len(refStars))
	for i, s := range refStars {
		refPts[i] = Point2D{X: s.X, Y: s.Y}
	}
	refTree := MakeKDTree2(refPts)

	srcPts := make([]Point2D, len(stars))
	for i, s := range stars {
		srcPts[i] = Point2D{X: s.X, Y: s.Y}
	}

	residual := func(params []float64) float64 {
		t := Transform2D{
			A: float32(params[0]), B: float32(params[1]), C: float32(params[2]),
			D: float32(params[3]), E: float32(params[4]), F: float32(params[5]),
		}
		sum, n := 0.0, 0
		for _, p := range srcPts {
			q := t.Apply(p)
			_, dsq := refTree.NearestNeighbor(q)
			if dsq < matchPixelTolerance {
				sum += math.Sqrt(float64(dsq))
				n++
			}
		}
		if n == 0 {
			return math.MaxFloat64
		}
		return sum / float64(n)
	}

	p0 := []float64{
		float64(initial.A), float64(initial.B), float64(initial.C),
		float64(initial.D), float64(initial.E), float64(initial.F),
	}

	problem := optimize.Problem{Func: residual}
	result, err := optimize.Minimize(problem, p0, &optimize.Settings{MajorIterations: 200}, &optimize.NelderMead{})
	if err != nil || result == nil {
		return initial, residual(p0)
	}
	best := result.X
	return Transform2D{
		A: float32(best[0]), B: float32(best[1]), C: float32(best[2]),
		D: float32(best[3]), E: float32(best[4]), F: float32(best[5]),
	}, result.F
}
