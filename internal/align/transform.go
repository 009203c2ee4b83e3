// Package align produces an AlignedSequence from a Sequence by resampling
// every frame but the reference onto a common pixel grid, via either
// world-coordinate reprojection or asterism matching.
package align

import "fmt"

// Point2D is a point in pixel space, used by the asterism star matcher and
// its affine transform fit.
type Point2D struct {
	X, Y float32
}

// Point3D is a point in triangle-descriptor space: the two smaller-to-larger
// normalized edge-length ratios of a star triangle, invariant under
// rotation, translation, and isotropic scale.
type Point3D struct {
	X, Y, Z float32
}

// Point3DPayload pairs a Point3D descriptor with the triangle it came from,
// so a kd-tree nearest-neighbor match can be traced back to three stars.
type Point3DPayload struct {
	Point3D
	Payload interface{}
}

// Transform2D is a 2D affine transform applied as
// out = (A*x + B*y + C, D*x + E*y + F). The asterism matcher fits one
// mapping the target frame's stars onto the reference frame's stars.
type Transform2D struct {
	A, B, C, D, E, F float32
}

// IdentityTransform2D returns the transform that maps every point to
// itself.
func IdentityTransform2D() Transform2D {
	return Transform2D{A: 1, E: 1}
}

// Apply maps p through the transform.
func (t Transform2D) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.C,
		Y: t.D*p.X + t.E*p.Y + t.F,
	}
}

// ApplySlice maps every point in ps through the transform.
func (t Transform2D) ApplySlice(ps []Point2D) []Point2D {
	out := make([]Point2D, len(ps))
	for i, p := range ps {
		out[i] = t.Apply(p)
	}
	return out
}

// Invert returns the transform undoing t, so that
// t.Invert().Apply(t.Apply(p)) == p modulo float error.
func (t Transform2D) Invert() (Transform2D, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Transform2D{}, fmt.Errorf("transform is singular, cannot invert")
	}
	invDet := 1 / det
	a := t.E * invDet
	b := -t.B * invDet
	d := -t.D * invDet
	e := t.A * invDet
	c := -(a*t.C + b*t.F)
	f := -(d*t.C + e*t.F)
	return Transform2D{A: a, B: b, C: c, D: d, E: e, F: f}, nil
}

// NewTransform2D fits the unique affine transform mapping p1,p2,p3 onto
// p1p,p2p,p3p exactly, solving the 3x3 linear system in closed form. This is
// the initial correspondence a matched star triangle gives the asterism
// matcher before it refines the fit over every star.
func NewTransform2D(p1, p2, p3, p1p, p2p, p3p Point2D) (Transform2D, error) {
	den := (p2.X-p1.X)*(p3.Y-p1.Y) - (p3.X-p1.X)*(p2.Y-p1.Y)
	if den == 0 {
		return Transform2D{}, fmt.Errorf("source triangle is degenerate, cannot fit a transform")
	}
	a := ((p2p.X-p1p.X)*(p3.Y-p1.Y) - (p3p.X-p1p.X)*(p2.Y-p1.Y)) / den
	b := ((p3p.X-p1p.X)*(p2.X-p1.X) - (p2p.X-p1p.X)*(p3.X-p1.X)) / den
	c := p1p.X - a*p1.X - b*p1.Y
	d := ((p2p.Y-p1p.Y)*(p3.Y-p1.Y) - (p3p.Y-p1p.Y)*(p2.Y-p1.Y)) / den
	e := ((p3p.Y-p1p.Y)*(p2.X-p1.X) - (p2p.Y-p1p.Y)*(p3.X-p1.X)) / den
	f := p1p.Y - d*p1.X - e*p1.Y
	return Transform2D{A: a, B: b, C: c, D: d, E: e, F: f}, nil
}
