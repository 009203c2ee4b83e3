// Package calib indexes on-disk calibration masters (bias, dark, flat) and
// serves the best match for a given Light frame's fingerprint, via a
// directory-indexed library with tolerance matching.
package calib

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
)

// Manifest records how a CalibrationMaster was built: its source
// fingerprint, input count, rejection statistics, and generation
// timestamp. BiasSubtracted marks a "calibrated dark" whose inputs already
// had a bias subtracted during construction.
type Manifest struct {
	SourceFingerprint fits.Fingerprint
	InputCount        int
	RejectedLow       int64
	RejectedHigh      int64
	GeneratedAt       string // RFC 3339
	BiasSubtracted    bool
	ULID              string
}

// Master is a CalibrationMaster: a Frame whose Kind is one of the Master*
// variants, plus its build manifest.
type Master struct {
	*fits.Frame
	Manifest Manifest
}

// Library holds every master found in a calibration directory, indexed for
// nearest-match lookup. The index is read-mostly: lookups take the read
// lock, Insert (after building a new master) takes the write lock.
type Library struct {
	mu      sync.RWMutex
	dir     string
	cfg     config.Config
	masters []*Master
}

// Open scans dir for FITS files, classifies and indexes every master found,
// and returns a Library bound to cfg's matching tolerances. A directory that
// does not exist yet is not an error: it yields an empty library that
// Insert can still populate.
func Open(dir string, cfg config.Config, logWriter io.Writer) (*Library, error) {
	lib := &Library{dir: dir, cfg: cfg}
	if err := lib.rebuild(logWriter); err != nil {
		return nil, err
	}
	return lib, nil
}

// rebuild re-reads every *.fits file in dir and rebuilds the in-memory
// index, as happens whenever the library is (re)opened.
func (l *Library) rebuild(logWriter io.Writer) error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.masters = nil
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var masters []*Master
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".fits" {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		frame, err := fits.Load(path, 0, logWriter)
		if err != nil {
			if logWriter != nil {
				io.WriteString(logWriter, "calib: skipping unreadable master "+path+": "+err.Error()+"\n")
			}
			continue
		}
		switch frame.Kind {
		case fits.MasterBias, fits.MasterDark, fits.MasterFlat:
			masters = append(masters, &Master{Frame: frame, Manifest: manifestFromHeader(frame)})
		}
	}

	l.mu.Lock()
	l.masters = masters
	l.mu.Unlock()
	return nil
}

func manifestFromHeader(f *fits.Frame) Manifest {
	m := Manifest{SourceFingerprint: f.Fingerprint()}
	if v, ok := f.Header.Ints["NINPUTS"]; ok {
		m.InputCount = int(v)
	}
	if v, ok := f.Header.Ints["NREJLOW"]; ok {
		m.RejectedLow = int64(v)
	}
	if v, ok := f.Header.Ints["NREJHIGH"]; ok {
		m.RejectedHigh = int64(v)
	}
	if v, ok := f.Header.Strings["DATE"]; ok {
		m.GeneratedAt = v
	}
	if v, ok := f.Header.Bools["BIASSUB"]; ok {
		m.BiasSubtracted = v
	}
	if v, ok := f.Header.Strings["ULID"]; ok {
		m.ULID = v
	}
	return m
}

// Insert adds a freshly built master to the index under the write lock.
func (l *Library) Insert(m *Master) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.masters = append(l.masters, m)
}

// FindBias returns the library's best-matching master bias for frame:
// same gain, offset, binning; temperature within cfg.TempTolerance.
func (l *Library) FindBias(frame *fits.Frame) (*Master, bool) {
	fp := frame.Fingerprint()
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best *Master
	bestTempDiff := math.MaxFloat64
	for _, m := range l.masters {
		if m.Kind != fits.MasterBias {
			continue
		}
		mfp := m.Fingerprint()
		if !sameGainOffsetBinning(fp, mfp) {
			continue
		}
		tempDiff := math.Abs(float64(fp.TempC - mfp.TempC))
		if tempDiff > l.cfg.TempTolerance {
			continue
		}
		if tempDiff < bestTempDiff {
			best, bestTempDiff = m, tempDiff
		}
	}
	return best, best != nil
}

// FindDark returns the library's best-matching master dark for frame. It
// tries an exact-exposure match first, falling back to the longer-exposure
// dark whose exposure excess is smallest, to be scaled down. exact reports
// whether the match was
// exact-exposure (so the Calibrator need not scale).
func (l *Library) FindDark(frame *fits.Frame) (match *Master, exact bool, ok bool) {
	fp := frame.Fingerprint()
	l.mu.RLock()
	defer l.mu.RUnlock()

	var bestExact *Master
	bestExactDiff := math.MaxFloat64
	var bestScaled *Master
	bestExcess := math.MaxFloat64

	for _, m := range l.masters {
		if m.Kind != fits.MasterDark {
			continue
		}
		mfp := m.Fingerprint()
		if !sameGainOffsetBinning(fp, mfp) {
			continue
		}
		if math.Abs(float64(fp.TempC-mfp.TempC)) > l.cfg.TempTolerance {
			continue
		}

		expDiff := math.Abs(float64(fp.Exposure - mfp.Exposure))
		if expDiff <= l.cfg.ExposureTolerance && expDiff < bestExactDiff {
			bestExact, bestExactDiff = m, expDiff
		}

		excess := float64(mfp.Exposure - fp.Exposure)
		if excess >= 0 && excess < bestExcess {
			bestScaled, bestExcess = m, excess
		}
	}

	if bestExact != nil {
		return bestExact, true, true
	}
	if bestScaled != nil {
		return bestScaled, false, true
	}
	return nil, false, false
}

// FindFlat returns the library's best-matching master flat for frame: same
// filter and binning; temperature within cfg.TempTolerance.
func (l *Library) FindFlat(frame *fits.Frame) (*Master, bool) {
	fp := frame.Fingerprint()
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best *Master
	bestTempDiff := math.MaxFloat64
	for _, m := range l.masters {
		if m.Kind != fits.MasterFlat {
			continue
		}
		mfp := m.Fingerprint()
		if mfp.Filter != fp.Filter || mfp.BinX != fp.BinX || mfp.BinY != fp.BinY {
			continue
		}
		tempDiff := math.Abs(float64(fp.TempC - mfp.TempC))
		if tempDiff > l.cfg.TempTolerance {
			continue
		}
		if tempDiff < bestTempDiff {
			best, bestTempDiff = m, tempDiff
		}
	}
	return best, best != nil
}

func sameGainOffsetBinning(a, b fits.Fingerprint) bool {
	return a.Gain == b.Gain && a.Offset == b.Offset && a.BinX == b.BinX && a.BinY == b.BinY
}

// EncodeFilename builds the master filename encoding:
// master_<kind>_<exposure-if-applicable>_<temperature>C_<gain>g<offset>o_<YYYYMMDD>.fits
func EncodeFilename(kind fits.FrameKind, fp fits.Fingerprint, yyyymmdd string) string {
	kindWord := kindFileWord(kind)
	expPart := ""
	if kind == fits.MasterDark {
		expPart = formatTrimmed(fp.Exposure) + "s_"
	}
	return "master_" + kindWord + "_" + expPart +
		formatTrimmed(fp.TempC) + "C_" +
		formatTrimmed(fp.Gain) + "g" + formatTrimmed(fp.Offset) + "o_" +
		yyyymmdd + ".fits"
}

func kindFileWord(kind fits.FrameKind) string {
	switch kind {
	case fits.MasterBias:
		return "bias"
	case fits.MasterDark:
		return "dark"
	case fits.MasterFlat:
		return "flat"
	default:
		return "unknown"
	}
}

func formatTrimmed(v float32) string {
	s := trimFloat(float64(v))
	return s
}

func trimFloat(v float64) string {
	neg := ""
	if v < 0 {
		neg = "neg"
		v = -v
	}
	whole := int64(v)
	frac := v - float64(whole)
	if frac < 1e-6 {
		return neg + itoa(whole)
	}
	return neg + itoa(whole) + "p" + itoa(int64(frac*100))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}
