// Package wcs models the FITS world-coordinate system: the invertible
// mapping between pixel indices and celestial coordinates. Grounded in
// observerly-skysolve's pkg/wcs (CRPIX/CRVAL/CD-matrix fields and the
// pixel-to-equatorial transform) and pkg/transform/sip.go (SIP distortion
// coefficient storage), generalized here to also support the product form
// PC*+CDELT* spec.md §6 requires, and to carry the coefficients both ways.
package wcs

import "gonum.org/v1/gonum/mat"

// Equatorial is an ICRS-like (RA, Dec) pair in degrees, named the way
// observerly-skysolve's astrometry.ICRSEquatorialCoordinate is.
type Equatorial struct {
	RA  float64 // degrees
	Dec float64 // degrees
}

// Pixel is a pixel-plane coordinate.
type Pixel struct {
	X float64
	Y float64
}

// SIPCoefficients holds one direction's polynomial distortion terms of the
// Simple Imaging Polynomial convention (the forward A_/B_ series or the
// inverse AP_/BP_ series), stored as a flat
// name->value map (e.g. "A_2_0") so arbitrary polynomial orders pass
// through without a fixed-size struct. Grounded in
// observerly-skysolve/pkg/transform/sip.go.
type SIPCoefficients map[string]float64

// WCS describes the linear (plus optional SIP-distorted) mapping from pixel
// coordinates to celestial coordinates for one frame.
type WCS struct {
	CTYPE1, CTYPE2 string
	CRPIX1, CRPIX2 float64 // reference pixel
	CRVAL1, CRVAL2 float64 // reference world coordinate, degrees
	CUnit1, CUnit2 string
	LonPole, LatPole float64

	// CD is the 2x2 linear transform matrix (degrees/pixel). Populated
	// either directly from CD1_1.. cards, or derived from the PC*+CDELT*
	// product form at construction time.
	CD [2][2]float64

	SIPForward SIPCoefficients // A_*, B_*
	SIPInverse SIPCoefficients // AP_*, BP_*
}

// NewFromCD builds a WCS from the direct CDi_j linear transform form.
func NewFromCD(crpix1, crpix2, crval1, crval2, cd11, cd12, cd21, cd22 float64) WCS {
	return WCS{
		CRPIX1: crpix1, CRPIX2: crpix2,
		CRVAL1: crval1, CRVAL2: crval2,
		CD: [2][2]float64{{cd11, cd12}, {cd21, cd22}},
	}
}

// NewFromPCAndCDELT builds a WCS from the product form: CD = CDELT * PC.
func NewFromPCAndCDELT(crpix1, crpix2, crval1, crval2 float64, pc [2][2]float64, cdelt1, cdelt2 float64) WCS {
	return WCS{
		CRPIX1: crpix1, CRPIX2: crpix2,
		CRVAL1: crval1, CRVAL2: crval2,
		CD: [2][2]float64{
			{pc[0][0] * cdelt1, pc[0][1] * cdelt2},
			{pc[1][0] * cdelt1, pc[1][1] * cdelt2},
		},
	}
}

// PixelToEquatorial maps a pixel coordinate to (RA, Dec) using the linear
// CD-matrix term of the transform. SIP forward distortion, when present, is
// added on top via applySIPForward.
func (w *WCS) PixelToEquatorial(x, y float64) Equatorial {
	dx, dy := x-w.CRPIX1, y-w.CRPIX2
	if len(w.SIPForward) > 0 {
		dx, dy = w.applySIPForward(dx, dy)
	}
	return Equatorial{
		RA:  w.CRVAL1 + w.CD[0][0]*dx + w.CD[0][1]*dy,
		Dec: w.CRVAL2 + w.CD[1][0]*dx + w.CD[1][1]*dy,
	}
}

// EquatorialToPixel inverts PixelToEquatorial using the matrix inverse of
// CD. This is exact for the linear term; when SIP inverse coefficients are
// present they are applied as a correction the way the AP_*/BP_* terms are
// defined to.
func (w *WCS) EquatorialToPixel(eq Equatorial) (Pixel, error) {
	m := mat.NewDense(2, 2, []float64{w.CD[0][0], w.CD[0][1], w.CD[1][0], w.CD[1][1]})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Pixel{}, err
	}
	dRA, dDec := eq.RA-w.CRVAL1, eq.Dec-w.CRVAL2
	dx := inv.At(0, 0)*dRA + inv.At(0, 1)*dDec
	dy := inv.At(1, 0)*dRA + inv.At(1, 1)*dDec
	if len(w.SIPInverse) > 0 {
		dx, dy = w.applySIPInverse(dx, dy)
	}
	return Pixel{X: w.CRPIX1 + dx, Y: w.CRPIX2 + dy}, nil
}

// PlateScale returns the signed arcsec/pixel scale along each axis,
// computed from the diagonal of the CD matrix per spec.md §4.4.a / GLOSSARY;
// a flipped axis gives a negative value and the off-diagonal terms are not
// included.
func (w *WCS) PlateScale() (arcsecPerPixelX, arcsecPerPixelY float64) {
	return w.CD[0][0] * 3600.0, w.CD[1][1] * 3600.0
}

// applySIPForward evaluates sum_{p,q} A_p_q * u^p * v^q (and the B_ series
// for v) and adds it to the linear offset, per the SIP convention.
func (w *WCS) applySIPForward(u, v float64) (float64, float64) {
	du := evalSIPSeries(w.SIPForward, "A", u, v)
	dv := evalSIPSeries(w.SIPForward, "B", u, v)
	return u + du, v + dv
}

func (w *WCS) applySIPInverse(u, v float64) (float64, float64) {
	du := evalSIPSeries(w.SIPInverse, "AP", u, v)
	dv := evalSIPSeries(w.SIPInverse, "BP", u, v)
	return u + du, v + dv
}

func evalSIPSeries(coeffs SIPCoefficients, prefix string, u, v float64) float64 {
	sum := 0.0
	for name, c := range coeffs {
		p, q, ok := parseSIPKey(name, prefix)
		if !ok {
			continue
		}
		sum += c * ipow(u, p) * ipow(v, q)
	}
	return sum
}

func ipow(base float64, exp int) float64 {
	r := 1.0
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// parseSIPKey parses keys of the form "A_2_0" into (p=2, q=0).
func parseSIPKey(name, prefix string) (p, q int, ok bool) {
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, 0, false
	}
	rest := name[len(prefix):]
	if len(rest) < 3 || rest[0] != '_' {
		return 0, 0, false
	}
	var i int
	for i = 1; i < len(rest) && rest[i] != '_'; i++ {
	}
	if i >= len(rest) {
		return 0, 0, false
	}
	p = atoiSafe(rest[1:i])
	q = atoiSafe(rest[i+1:])
	return p, q, true
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
