package fits

import "github.com/skystack/core/internal/wcs"

// wcsFromHeader builds a wcs.WCS from the recognized header cards, per
// spec.md §6. Returns nil if the header lacks a reference pixel/value pair
// (no usable WCS). Supports both the direct CDi_j form and the product
// PC*+CDELT* form.
func wcsFromHeader(h *Header) *wcs.WCS {
	crpix1, ok1 := h.Floats["CRPIX1"]
	crpix2, ok2 := h.Floats["CRPIX2"]
	crval1, ok3 := h.Floats["CRVAL1"]
	crval2, ok4 := h.Floats["CRVAL2"]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	var w wcs.WCS
	if cd11, ok := h.Floats["CD1_1"]; ok {
		w = wcs.NewFromCD(float64(crpix1), float64(crpix2), float64(crval1), float64(crval2),
			float64(cd11), float64(h.Floats["CD1_2"]), float64(h.Floats["CD2_1"]), float64(h.Floats["CD2_2"]))
	} else {
		pc := [2][2]float64{{1, 0}, {0, 1}}
		if v, ok := h.Floats["PC1_1"]; ok {
			pc[0][0] = float64(v)
		}
		if v, ok := h.Floats["PC1_2"]; ok {
			pc[0][1] = float64(v)
		}
		if v, ok := h.Floats["PC2_1"]; ok {
			pc[1][0] = float64(v)
		}
		if v, ok := h.Floats["PC2_2"]; ok {
			pc[1][1] = float64(v)
		}
		w = wcs.NewFromPCAndCDELT(float64(crpix1), float64(crpix2), float64(crval1), float64(crval2),
			pc, float64(h.Floats["CDELT1"]), float64(h.Floats["CDELT2"]))
	}
	w.CTYPE1, w.CTYPE2 = h.Strings["CTYPE1"], h.Strings["CTYPE2"]
	w.CUnit1, w.CUnit2 = h.Strings["CUNIT1"], h.Strings["CUNIT2"]
	w.LonPole = float64(h.Floats["LONPOLE"])
	w.LatPole = float64(h.Floats["LATPOLE"])
	w.SIPForward = mergeSIPSeries(h, "A_", "B_")
	w.SIPInverse = mergeSIPSeries(h, "AP_", "BP_")
	return &w
}

// MergeWCS writes w's fields back into h's cards in the direct CDi_j form,
// overwriting any conflicting keys already present (spec.md §6's plate
// solver contract: "opaque WCS header block to be merged into the frame's
// metadata, overwriting conflicting keys").
func (h Header) MergeWCS(w *wcs.WCS) {
	h.Strings["CTYPE1"], h.Strings["CTYPE2"] = w.CTYPE1, w.CTYPE2
	h.Floats["CRPIX1"], h.Floats["CRPIX2"] = float32(w.CRPIX1), float32(w.CRPIX2)
	h.Floats["CRVAL1"], h.Floats["CRVAL2"] = float32(w.CRVAL1), float32(w.CRVAL2)
	h.Floats["CD1_1"], h.Floats["CD1_2"] = float32(w.CD[0][0]), float32(w.CD[0][1])
	h.Floats["CD2_1"], h.Floats["CD2_2"] = float32(w.CD[1][0]), float32(w.CD[1][1])
	if w.CUnit1 != "" {
		h.Strings["CUNIT1"] = w.CUnit1
	}
	if w.CUnit2 != "" {
		h.Strings["CUNIT2"] = w.CUnit2
	}
	if w.LonPole != 0 {
		h.Floats["LONPOLE"] = float32(w.LonPole)
	}
	if w.LatPole != 0 {
		h.Floats["LATPOLE"] = float32(w.LatPole)
	}
	h.DeleteKey("PC1_1")
	h.DeleteKey("PC1_2")
	h.DeleteKey("PC2_1")
	h.DeleteKey("PC2_2")
	h.DeleteKey("CDELT1")
	h.DeleteKey("CDELT2")
	for k, v := range w.SIPForward {
		h.Floats[k] = float32(v)
	}
	for k, v := range w.SIPInverse {
		h.Floats[k] = float32(v)
	}
}

// mergeSIPSeries collects every header float card whose name starts with
// one of the given prefixes (e.g. "A_", "B_" for the forward series, or
// "AP_", "BP_" for the inverse series) into a single coefficient map.
func mergeSIPSeries(h *Header, prefixes ...string) wcs.SIPCoefficients {
	out := wcs.SIPCoefficients{}
	for k, v := range h.Floats {
		for _, p := range prefixes {
			if len(k) > len(p) && k[:len(p)] == p {
				out[k] = float64(v)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
