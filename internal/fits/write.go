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
	"math"
	"os"
	"sort"
	"strings"
)

// WriteFile writes the frame to fileName, creating or overwriting it.
func (f *Frame) WriteFile(fileName string) error {
	out, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	return f.Write(out)
}

// Write serializes the frame as an 80-column header followed by a float32
// binary data unit, in the style of the teacher's internal/write.go.
func (f *Frame) Write(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "number of axes")
	for i, n := range f.Naxisn {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), n, "axis size")
	}
	writeFloat32(&sb, "BZERO", 0, "zero offset")
	writeFloat32(&sb, "BSCALE", 1, "value scaler")
	writeFloat32(&sb, "EXPTIME", f.Exposure, "exposure in seconds")
	writeString(&sb, "FRAME", f.Kind.String(), "frame kind")

	writeHeaderCards(&sb, f.Header)
	writeEnd(&sb)

	pad := sb.Len() % blockSize
	if pad > 0 {
		sb.WriteString(strings.Repeat(" ", blockSize-pad))
	}
	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}
	return writeFloat32Array(w, f.Data)
}

// writeHeaderCards emits every bool, integer, float and string card still
// present in the header (anything not already emitted as a mandatory card
// above), in a stable order so output is reproducible across runs. Cards
// held in h.Dates and the COMMENT/HISTORY lines are not written.
func writeHeaderCards(sb *strings.Builder, h Header) {
	keys := make([]string, 0, len(h.Strings)+len(h.Floats)+len(h.Ints)+len(h.Bools))
	seen := map[string]bool{"SIMPLE": true, "BITPIX": true, "NAXIS": true, "BZERO": true, "BSCALE": true, "EXPTIME": true, "FRAME": true}
	for i := range h.Floats {
		keys = append(keys, i)
	}
	collect := func(m map[string]string) {
		for k := range m {
			keys = append(keys, k)
		}
	}
	collect(h.Strings)
	for k := range h.Ints {
		keys = append(keys, k)
	}
	for k := range h.Bools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	written := map[string]bool{}
	for _, k := range keys {
		if seen[k] || written[k] {
			continue
		}
		written[k] = true
		if v, ok := h.Bools[k]; ok {
			writeBool(sb, k, v, "")
		} else if v, ok := h.Ints[k]; ok {
			writeInt32(sb, k, v, "")
		} else if v, ok := h.Floats[k]; ok {
			writeFloat32(sb, k, v, "")
		} else if v, ok := h.Strings[k]; ok {
			writeString(sb, k, v, "")
		}
	}
}

func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", truncate(key, 8), v, truncate(comment, 47))
}

func writeInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", truncate(key, 8), value, truncate(comment, 47))
}

func writeFloat32(w io.Writer, key string, value float32, comment string) {
	fmt.Fprintf(w, "%-8s= %20E / %-47s", truncate(key, 8), value, truncate(comment, 47))
}

func writeString(w io.Writer, key string, value string, comment string) {
	card := fmt.Sprintf("%-8s= '%-8s' / %s", truncate(key, 8), truncate(value, 68), truncate(comment, 47))
	fmt.Fprintf(w, "%-80s", truncate(card, 80))
}

func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "%-80s", "END")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// writeFloat32Array writes data as big-endian float32, the FITS-mandated
// byte order, padding the final block with zero bytes.
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		bits := math.Float32bits(v)
		buf[4*i] = byte(bits >> 24)
		buf[4*i+1] = byte(bits >> 16)
		buf[4*i+2] = byte(bits >> 8)
		buf[4*i+3] = byte(bits)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if pad := len(buf) % blockSize; pad > 0 {
		_, err := w.Write(make([]byte, blockSize-pad))
		return err
	}
	return nil
}
