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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/skystack/core/internal/corefail"
)

// ReadFile loads a container from fileName, transparently decompressing a
// .gz/.gzip suffix. id becomes the Frame's stable ID.
func ReadFile(fileName string, id int, logWriter io.Writer) (*Frame, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, corefail.Wrap(corefail.BadContainer, fileName, err)
	}
	defer f.Close()

	var r io.Reader = f
	if ext := strings.ToLower(path.Ext(fileName)); ext == ".gz" || ext == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, corefail.Wrap(corefail.BadContainer, fileName, err)
		}
		r = gz
	}

	frame := NewFrame()
	frame.ID = id
	frame.FileName = fileName
	if err := frame.read(r, logWriter); err != nil {
		return nil, err
	}
	return frame, nil
}

// read parses the header and binary data unit of a container from r.
func (frame *Frame) read(r io.Reader, logWriter io.Writer) error {
	if _, err := frame.Header.read(r, logWriter); err != nil {
		return corefail.Wrap(corefail.BadContainer, frame.FileName, err)
	}

	if !frame.Header.Bools["SIMPLE"] {
		return corefail.New(corefail.BadContainer, frame.FileName, "SIMPLE=T missing in header")
	}
	delete(frame.Header.Bools, "SIMPLE")

	var err error
	if frame.Bitpix, err = frame.Header.PopInt32("BITPIX"); err != nil {
		return corefail.Wrap(corefail.BadContainer, frame.FileName, err)
	}
	naxis, err := frame.Header.PopInt32("NAXIS")
	if err != nil {
		return corefail.Wrap(corefail.BadContainer, frame.FileName, err)
	}
	frame.Naxisn = make([]int32, naxis)
	frame.Pixels = 1
	for i := int32(1); i <= naxis; i++ {
		n, err := frame.Header.PopInt32(fmt.Sprintf("NAXIS%d", i))
		if err != nil {
			return corefail.Wrap(corefail.BadContainer, frame.FileName, err)
		}
		frame.Naxisn[i-1] = n
		frame.Pixels *= n
	}

	if frame.Bzero, err = frame.Header.PopFloat32OrInt32("BZERO"); err != nil {
		frame.Bzero = 0
	}
	if frame.Bscale, err = frame.Header.PopFloat32OrInt32("BSCALE"); err != nil {
		frame.Bscale = 1
	}
	if frame.Exposure, err = frame.Header.PopFloat32OrInt32("EXPOSURE"); err != nil {
		if frame.Exposure, err = frame.Header.PopFloat32OrInt32("EXPTIME"); err != nil {
			frame.Exposure = 0
		}
	}
	if kindStr, ok := frame.Header.Strings["FRAME"]; ok {
		if k, ok := ParseFrameKind(kindStr); ok {
			frame.Kind = k
		}
	} else if kindStr, ok := frame.Header.Strings["IMAGETYP"]; ok {
		if k, ok := ParseFrameKind(kindStr); ok {
			frame.Kind = k
		}
	}

	frame.WCS = wcsFromHeader(&frame.Header)

	if len(frame.Naxisn) != 2 {
		return corefail.New(corefail.WrongDimensionality, frame.FileName, "expected 2 axes, found %d", len(frame.Naxisn))
	}

	if err := frame.readData(r); err != nil {
		return err
	}
	return nil
}

const readBufLen = 16 * 1024

// readData decodes the binary data unit, converting every supported BITPIX
// value to float32 regardless of source bit depth (spec.md §3 invariant:
// "All pixel arithmetic is performed in 32-bit floating point"). Big-endian
// byte order, mandated by the FITS standard, is decoded explicitly byte by
// byte, so the resulting []float32 is already in the host's native order —
// this satisfies spec.md §9's byte-order requirement before any buffer
// reaches the asterism matcher.
func (frame *Frame) readData(r io.Reader) error {
	switch frame.Bitpix {
	case 8:
		return frame.readIntData(r, 1, func(b []byte) int64 { return int64(b[0]) })
	case 16:
		return frame.readIntData(r, 2, func(b []byte) int64 { return int64(int16(uint16(b[0])<<8 | uint16(b[1]))) })
	case 32:
		return frame.readIntData(r, 4, func(b []byte) int64 {
			return int64(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		})
	case 64:
		return frame.readIntData(r, 8, func(b []byte) int64 {
			v := uint64(0)
			for i := 0; i < 8; i++ {
				v = v<<8 | uint64(b[i])
			}
			return int64(v)
		})
	case -32:
		return frame.readFloatData(r, 4, func(b []byte) float64 {
			bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
			return float64(math.Float32frombits(bits))
		})
	case -64:
		return frame.readFloatData(r, 8, func(b []byte) float64 {
			v := uint64(0)
			for i := 0; i < 8; i++ {
				v = v<<8 | uint64(b[i])
			}
			return math.Float64frombits(v)
		})
	default:
		return corefail.New(corefail.BadContainer, frame.FileName, "unknown BITPIX value %d", frame.Bitpix)
	}
}

func (frame *Frame) readIntData(r io.Reader, width int, decode func([]byte) int64) error {
	return frame.readTyped(r, width, func(b []byte) float32 {
		return float32(decode(b))*frame.Bscale + frame.Bzero
	})
}

func (frame *Frame) readFloatData(r io.Reader, width int, decode func([]byte) float64) error {
	return frame.readTyped(r, width, func(b []byte) float32 {
		return float32(decode(b))*frame.Bscale + frame.Bzero
	})
}

func (frame *Frame) readTyped(r io.Reader, width int, decode func([]byte) float32) error {
	frame.Data = make([]float32, frame.Pixels)
	buf := make([]byte, readBufLen)
	dataIndex, leftover := 0, 0
	for dataIndex < len(frame.Data) {
		want := (len(frame.Data)-dataIndex)*width - leftover
		if want > readBufLen-leftover {
			want = readBufLen - leftover
		}
		n, err := r.Read(buf[leftover : leftover+want])
		if err != nil {
			return corefail.Wrap(corefail.BadContainer, frame.FileName, err)
		}
		avail := leftover + n
		usable := avail - avail%width
		for i := 0; i < usable; i += width {
			frame.Data[dataIndex+i/width] = decode(buf[i : i+width])
		}
		dataIndex += usable / width
		leftover = avail - usable
		copy(buf[:leftover], buf[usable:avail])
	}
	frame.Bzero, frame.Bscale = 0, 1
	return nil
}
