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

package fits

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const blockSize = 2880  // FITS header/data unit block size
const lineSize = 80     // FITS header line size

// Header holds every recognized card from an 80-column header, keyed by
// card name and bucketed by value type; Comments and History hold the text
// of COMMENT and HISTORY cards. A line that matches none of the recognized
// card shapes is skipped (with a warning to the log writer, if any) and is
// not kept anywhere.
type Header struct {
	Bools   map[string]bool
	Ints    map[string]int32
	Floats  map[string]float32
	Strings map[string]string
	Dates   map[string]string

	Comments []string
	History  []string
	end      bool
}

// NewHeader returns a Header with initialized, empty maps.
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
	}
}

// Clone returns a deep copy, so a derived Frame can mutate its own header
// without affecting the Frame it was derived from.
func (h Header) Clone() Header {
	out := NewHeader()
	for k, v := range h.Bools {
		out.Bools[k] = v
	}
	for k, v := range h.Ints {
		out.Ints[k] = v
	}
	for k, v := range h.Floats {
		out.Floats[k] = v
	}
	for k, v := range h.Strings {
		out.Strings[k] = v
	}
	for k, v := range h.Dates {
		out.Dates[k] = v
	}
	out.Comments = append([]string(nil), h.Comments...)
	out.History = append([]string(nil), h.History...)
	out.end = h.end
	return out
}

// DeleteKey removes a card from every value bucket. Used when a WCS key in
// the output frame does not exist in the reference header and must be
// scrubbed (spec.md §4.4.a).
func (h Header) DeleteKey(key string) {
	delete(h.Bools, key)
	delete(h.Ints, key)
	delete(h.Floats, key)
	delete(h.Strings, key)
	delete(h.Dates, key)
}

var lineRE = compileLineRE()

func compileLineRE() *regexp.Regexp {
	white, whiteOpt := `\s+`, `\s*`
	histLine := "HISTORY" + white + `(?P<H>.*)`
	commLine := "COMMENT" + white + `(?P<C>.*)`
	endLine := `(?P<E>END)` + whiteOpt
	key := `(?P<k>[A-Z0-9_-]+)`
	boo := `(?P<b>[TF])`
	inte := `(?P<i>[+-]?[0-9]+)`
	floa := `(?P<f>[+-]?[0-9]*\.[0-9]*(?:[ED][-+]?[0-9]+)?)`
	stri := `'(?P<s>[^']*)'`
	date := `(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)`
	val := `(?:` + boo + `|` + inte + `|` + floa + `|` + stri + `|` + date + `)`
	commOpt := `(?:/(?P<c>.*))?`
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt
	return regexp.MustCompile(`^(?:` + white + `|` + histLine + `|` + commLine + `|` + keyLine + `|` + endLine + `)$`)
}

// read parses 2880-byte header blocks from r until the END card is seen.
func (h *Header) read(r io.Reader, logWriter io.Writer) (lengthBytes int32, err error) {
	buf := make([]byte, blockSize)
	for !h.end {
		n, err := io.ReadFull(r, buf)
		if err != nil || n != blockSize {
			return lengthBytes, fmt.Errorf("reading FITS header: %w", err)
		}
		lengthBytes += int32(n)
		for line := 0; line < blockSize/lineSize && !h.end; line++ {
			raw := buf[line*lineSize : (line+1)*lineSize]
			m := lineRE.FindSubmatch(raw)
			if m == nil {
				if logWriter != nil {
					fmt.Fprintf(logWriter, "warning: cannot parse header line %q, ignoring\n", string(raw))
				}
				continue
			}
			h.readLine(lineRE.SubexpNames(), m)
		}
	}
	return lengthBytes, nil
}

func (h *Header) readLine(names []string, vals [][]byte) {
	key := ""
	for i := 1; i < len(names); i++ {
		if vals[i] == nil || len(names[i]) != 1 {
			continue
		}
		switch names[i][0] {
		case 'E':
			h.end = true
		case 'H':
			h.History = append(h.History, string(vals[i]))
		case 'C':
			h.Comments = append(h.Comments, string(vals[i]))
		case 'k':
			key = string(vals[i])
		case 'b':
			if len(vals[i]) > 0 {
				v := vals[i][0]
				h.Bools[key] = v == 't' || v == 'T'
			}
		case 'i':
			if v, err := strconv.ParseInt(string(vals[i]), 10, 64); err == nil {
				h.Ints[key] = int32(v)
			}
		case 'f':
			if v, err := strconv.ParseFloat(string(vals[i]), 64); err == nil {
				h.Floats[key] = float32(v)
			}
		case 's':
			h.Strings[key] = strings.TrimRight(string(vals[i]), " ")
		case 'd':
			h.Dates[key] = string(vals[i])
		}
	}
}

// Pop* remove and return a card, for mandatory-field parsing where a
// missing card should fail the read rather than silently default.
func (h *Header) PopInt32(key string) (int32, error) {
	if v, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return v, nil
	}
	return 0, fmt.Errorf("header does not contain key %s", key)
}

func (h *Header) PopFloat32OrInt32(key string) (float32, error) {
	if v, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float32(v), nil
	}
	if v, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return v, nil
	}
	return 0, fmt.Errorf("header does not contain key %s", key)
}

// WCS-related keys copied verbatim across calibration and alignment.
var wcsKeys = []string{
	"CTYPE1", "CTYPE2", "CRPIX1", "CRPIX2", "CRVAL1", "CRVAL2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2", "PC1_1", "PC1_2", "PC2_1", "PC2_2",
	"CDELT1", "CDELT2", "CUNIT1", "CUNIT2", "LONPOLE", "LATPOLE",
}

// IsWCSKey reports whether key is one of the world-coordinate header cards
// that must be copied through verbatim (spec.md §6) or is a SIP distortion
// coefficient card (A_*, B_*, AP_*, BP_*, *_ORDER).
func IsWCSKey(key string) bool {
	for _, k := range wcsKeys {
		if k == key {
			return true
		}
	}
	return isSIPKey(key)
}

func isSIPKey(key string) bool {
	for _, p := range []string{"A_", "B_", "AP_", "BP_"} {
		if len(key) > len(p) && key[:len(p)] == p {
			return true
		}
	}
	if len(key) > 6 && key[len(key)-6:] == "_ORDER" {
		return true
	}
	return false
}

// CopyWCSKeysFrom copies every WCS-related card present in src into h,
// overwriting any existing value, then removes WCS cards present in h but
// absent from src (spec.md §4.4.a: "remove stale WCS keys that do not exist
// in the reference").
func (h Header) CopyWCSKeysFrom(src Header) {
	seen := map[string]bool{}
	for _, k := range wcsKeys {
		if v, ok := src.Floats[k]; ok {
			h.Floats[k] = v
			seen[k] = true
		} else if v, ok := src.Strings[k]; ok {
			h.Strings[k] = v
			seen[k] = true
		}
	}
	for k := range src.Floats {
		if isSIPKey(k) {
			h.Floats[k] = src.Floats[k]
			seen[k] = true
		}
	}
	for k := range src.Ints {
		if isSIPKey(k) {
			h.Ints[k] = src.Ints[k]
			seen[k] = true
		}
	}
	for _, k := range wcsKeys {
		if !seen[k] {
			h.DeleteKey(k)
		}
	}
	for k := range h.Floats {
		if isSIPKey(k) && !seen[k] {
			h.DeleteKey(k)
		}
	}
	for k := range h.Ints {
		if isSIPKey(k) && !seen[k] {
			h.DeleteKey(k)
		}
	}
}
