package calib

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/qsort"
	"github.com/skystack/core/internal/reduce"
	"github.com/skystack/core/internal/sequence"
)

// SubtractDark removes a matching master dark's contribution from a
// single-frame buffer, exposure-scaling it first when dark is a
// longer-exposure match rather than an exact one. Shared between the
// Calibrator (internal/calibrate) and the flat master builder below, which
// both need the same rule.
func SubtractDark(data []float32, exposure float32, dark *Master, exact bool) {
	if exact || dark.Exposure == 0 {
		for i, v := range data {
			data[i] = v - dark.Data[i]
		}
		return
	}
	scale := exposure / dark.Exposure
	for i, v := range data {
		data[i] = v - dark.Data[i]*scale
	}
}

// Build combines seq (all frames of the same raw kind) into one
// CalibrationMaster, writes it to the library's directory with the
// standard filename encoding, and inserts it into the in-memory index.
// Fails with EmptySequence, InconsistentSequence (propagated from
// seq.CheckConsistency), or MissingMaster (flat combine with no matching
// bias/dark).
func (l *Library) Build(kind fits.FrameKind, seq *sequence.Sequence, cfg config.Config, logWriter io.Writer) (*Master, error) {
	if len(seq.Frames) == 0 {
		return nil, corefail.New(corefail.EmptySequence, "", "calibration build sequence has no frames")
	}
	if err := seq.CheckConsistency(cfg.TestedFITSCards); err != nil {
		return nil, err
	}

	working := make([][]float32, len(seq.Frames))
	for i, f := range seq.Frames {
		working[i] = append([]float32(nil), f.Data...)
	}

	biasSubtracted := false
	switch kind {
	case fits.MasterDark:
		if bias, ok := l.FindBias(seq.Frames[0]); ok {
			for _, w := range working {
				for i, v := range w {
					w[i] = v - bias.Data[i]
				}
			}
			biasSubtracted = true
		}

	case fits.MasterFlat:
		bias, ok := l.FindBias(seq.Frames[0])
		if !ok {
			return nil, corefail.New(corefail.MissingMaster, seq.Frames[0].FileName, "no matching master bias for flat build")
		}
		dark, exact, ok := l.FindDark(seq.Frames[0])
		if !ok {
			return nil, corefail.New(corefail.MissingMaster, seq.Frames[0].FileName, "no matching master dark for flat build")
		}
		for i, w := range working {
			for j, v := range w {
				w[j] = v - bias.Data[j]
			}
			SubtractDark(w, seq.Frames[i].Exposure, dark, exact)
			median := qsort.QSelectMedianFloat32(append([]float32(nil), w...))
			if median != 0 {
				scale := 1 / median
				for j, v := range w {
					w[j] = v * scale
				}
			}
		}
		biasSubtracted = true
	}

	width, height := seq.Frames[0].Width(), seq.Frames[0].Height()
	out := make([]float32, int(width)*int(height))
	rowsPerStripe := reduce.StripeRows(len(working), width, height, cfg.IntegrationMemoryLimit)
	var rejLow, rejHigh int64
	lightsStripe := make([][]float32, len(working))
	for rowStart := int32(0); rowStart < height; rowStart += rowsPerStripe {
		rowEnd := rowStart + rowsPerStripe
		if rowEnd > height {
			rowEnd = height
		}
		lo, hi := rowStart*width, rowEnd*width
		for i, w := range working {
			lightsStripe[i] = w[lo:hi]
		}
		rl, rh := reduce.Stripe(lightsStripe, config.ReduceMean, true, cfg.SigmaLow, cfg.SigmaHigh, 0, out[lo:hi])
		rejLow += rl
		rejHigh += rh
	}

	master := fits.NewFrameLike(seq.Frames[0], out)
	master.Kind = kind
	master.Header.Strings["IMAGETYP"] = kind.String()
	master.Header.Strings["FRAME"] = kind.String()
	master.Header.Bools["COMBINED"] = true
	master.Header.Ints["NINPUTS"] = int32(len(seq.Frames))
	master.Header.Ints["NREJLOW"] = int32(rejLow)
	master.Header.Ints["NREJHIGH"] = int32(rejHigh)
	master.Header.Bools["BIASSUB"] = biasSubtracted

	generatedAt := time.Now().UTC()
	id := newULID(generatedAt)
	master.Header.Strings["DATE"] = generatedAt.Format(time.RFC3339)
	master.Header.Strings["ULID"] = id

	manifest := Manifest{
		SourceFingerprint: seq.Frames[0].Fingerprint(),
		InputCount:        len(seq.Frames),
		RejectedLow:       rejLow,
		RejectedHigh:      rejHigh,
		GeneratedAt:       master.Header.Strings["DATE"],
		BiasSubtracted:    biasSubtracted,
		ULID:              id,
	}
	m := &Master{Frame: master, Manifest: manifest}

	if err := l.persist(m, generatedAt); err != nil {
		return nil, err
	}
	l.Insert(m)
	return m, nil
}

// newULID stamps a monotonic, sortable identifier for a freshly built
// master, in the style observerly-skysolve uses oklog/ulid for generation
// IDs.
func newULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// persist writes m to the library directory under the standard filename
// encoding, creating the directory if it does not yet exist.
func (l *Library) persist(m *Master, generatedAt time.Time) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	yyyymmdd := generatedAt.Format("20060102")
	name := EncodeFilename(m.Kind, m.Fingerprint(), yyyymmdd)
	return m.WriteFile(filepath.Join(l.dir, name))
}
