package align

import (
	"math"
	"sort"
)

// KDTree2 is a pointerless, in-place-built 2D kd-tree over Point2D values,
// alternating the split axis between X and Y by depth, in the style of the
// teacher's internal/star/kdtree2.go.
type KDTree2 []Point2D

// MakeKDTree2 builds a balanced kd-tree in place over pts and returns it.
// pts is reordered; callers that need the original order should pass a copy.
func MakeKDTree2(pts []Point2D) KDTree2 {
	t := KDTree2(pts)
	t.build(0, len(t), 0)
	return t
}

func (t KDTree2) build(lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	mid := lo + (hi-lo)/2
	sub := t[lo:hi]
	if depth%2 == 0 {
		sort.Slice(sub, func(i, j int) bool { return sub[i].X < sub[j].X })
	} else {
		sort.Slice(sub, func(i, j int) bool { return sub[i].Y < sub[j].Y })
	}
	t.build(lo, mid, depth+1)
	t.build(mid+1, hi, depth+1)
}

// NearestNeighbor returns the index into t of the point closest to q and the
// squared distance to it. t must be non-empty.
func (t KDTree2) NearestNeighbor(q Point2D) (int, float32) {
	bestIdx, bestDsq := -1, float32(math.MaxFloat32)
	t.search(0, len(t), 0, q, &bestIdx, &bestDsq)
	return bestIdx, bestDsq
}

func (t KDTree2) search(lo, hi, depth int, q Point2D, bestIdx *int, bestDsq *float32) {
	if lo >= hi {
		return
	}
	mid := lo + (hi-lo)/2
	p := t[mid]
	if dsq := sqDist2D(p, q); dsq < *bestDsq {
		*bestDsq = dsq
		*bestIdx = mid
	}

	var axisDist float32
	if depth%2 == 0 {
		axisDist = q.X - p.X
	} else {
		axisDist = q.Y - p.Y
	}

	first, firstHi := mid+1, hi
	second, secondHi := lo, mid
	if axisDist < 0 {
		first, firstHi = lo, mid
		second, secondHi = mid+1, hi
	}
	t.search(first, firstHi, depth+1, q, bestIdx, bestDsq)
	if axisDist*axisDist < *bestDsq {
		t.search(second, secondHi, depth+1, q, bestIdx, bestDsq)
	}
}

func sqDist2D(a, b Point2D) float32 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// KDTree3P is a pointerless kd-tree over Point3DPayload values (the
// triangle-descriptor space), alternating split axis across X, Y, Z.
type KDTree3P []Point3DPayload

// MakeKDTree3P builds a balanced kd-tree in place over pts and returns it.
func MakeKDTree3P(pts []Point3DPayload) KDTree3P {
	t := KDTree3P(pts)
	t.build(0, len(t), 0)
	return t
}

func (t KDTree3P) build(lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	mid := lo + (hi-lo)/2
	axis := depth % 3
	sub := t[lo:hi]
	sort.Slice(sub, func(i, j int) bool {
		switch axis {
		case 0:
			return sub[i].X < sub[j].X
		case 1:
			return sub[i].Y < sub[j].Y
		default:
			return sub[i].Z < sub[j].Z
		}
	})
	t.build(lo, mid, depth+1)
	t.build(mid+1, hi, depth+1)
}

// NearestNeighbor returns the index into t of the payload whose descriptor
// is closest to q and the squared distance to it. t must be non-empty.
func (t KDTree3P) NearestNeighbor(q Point3D) (int, float32) {
	bestIdx, bestDsq := -1, float32(math.MaxFloat32)
	t.search(0, len(t), 0, q, &bestIdx, &bestDsq)
	return bestIdx, bestDsq
}

func (t KDTree3P) search(lo, hi, depth int, q Point3D, bestIdx *int, bestDsq *float32) {
	if lo >= hi {
		return
	}
	mid := lo + (hi-lo)/2
	p := t[mid].Point3D
	if dsq := sqDist3D(p, q); dsq < *bestDsq {
		*bestDsq = dsq
		*bestIdx = mid
	}

	axis := depth % 3
	var axisDist float32
	switch axis {
	case 0:
		axisDist = q.X - p.X
	case 1:
		axisDist = q.Y - p.Y
	default:
		axisDist = q.Z - p.Z
	}

	first, firstHi := mid+1, hi
	second, secondHi := lo, mid
	if axisDist < 0 {
		first, firstHi = lo, mid
		second, secondHi = mid+1, hi
	}
	t.search(first, firstHi, depth+1, q, bestIdx, bestDsq)
	if axisDist*axisDist < *bestDsq {
		t.search(second, secondHi, depth+1, q, bestIdx, bestDsq)
	}
}

func sqDist3D(a, b Point3D) float32 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}
