package align

import (
	"fmt"
	"math"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/sequence"
	"github.com/skystack/core/internal/wcs"
)

// AlignedSequence is a Sequence whose frames have all been resampled onto a
// common reference geometry. Warnings is indexed by original position; a
// nil slot means that frame aligned cleanly.
type AlignedSequence struct {
	Frames   []*fits.Frame
	Warnings []*corefail.Warning
}

// plateScaleTolerance is the reprojection precondition's allowed pixel-scale
// mismatch.
const plateScaleTolerance = 0.01 // arcsec/pixel

const starDetectSigma = 5

// Align resamples seq onto frame 0's geometry using method, chunking the
// work when the sequence is large or memory-hungry. Frame 0 is always
// passed through unchanged; a per-frame failure is a soft failure that
// passes the original frame through with a recorded warning.
func Align(seq *sequence.Sequence, method config.AlignMethod, cfg config.Config) (*AlignedSequence, error) {
	if len(seq.Frames) == 0 {
		return nil, corefail.New(corefail.EmptySequence, "", "sequence has no frames")
	}

	if method == config.AlignReprojection {
		if err := checkReprojectionPreconditions(seq.Frames); err != nil {
			return nil, err
		}
	}

	chunkSize := alignmentChunkSize(seq.Frames, cfg)
	out := &AlignedSequence{
		Frames:   make([]*fits.Frame, len(seq.Frames)),
		Warnings: make([]*corefail.Warning, len(seq.Frames)),
	}

	ref := seq.Frames[0]
	out.Frames[0] = ref

	var refStars []Star
	var refTriangles []triangle
	if method == config.AlignAsterism {
		bg, noise := backgroundStats(ref.Data)
		refStars = detectStars(ref.Data, ref.Width(), ref.Height(), bg, noise, starDetectSigma)
		refTriangles = buildTriangles(refStars)
	}

	for start := 1; start < len(seq.Frames); start += chunkSize {
		end := start + chunkSize
		if end > len(seq.Frames) {
			end = len(seq.Frames)
		}
		for i := start; i < end; i++ {
			frame := seq.Frames[i]

			var aligned *fits.Frame
			var err error
			switch method {
			case config.AlignReprojection:
				aligned, err = reprojectFrame(ref, frame)
			case config.AlignAsterism:
				aligned, err = asterismAlignFrame(ref, frame, refStars, refTriangles)
			default:
				err = fmt.Errorf("unknown alignment method %v", method)
			}

			if err != nil {
				w := corefail.Warning{Kind: kindOf(err), Input: frame.FileName, Cause: err}
				out.Warnings[i] = &w
				out.Frames[i] = frame
				continue
			}
			out.Frames[i] = aligned
		}
		// Between chunks, the per-chunk scratch (resample buffers, star
		// lists, kd-trees) goes out of scope and is released.
	}

	return out, nil
}

func kindOf(err error) corefail.Kind {
	if fe, ok := err.(*corefail.Error); ok {
		return fe.Kind
	}
	return corefail.ResamplingError
}

// alignmentChunkSize computes the number of frames processed before the
// next chunk, bounding estimated memory to cfg.AlignmentMemoryLimit.
func alignmentChunkSize(frames []*fits.Frame, cfg config.Config) int {
	if !cfg.AlignmentEnableChunked || len(frames) == 0 {
		return maxInt(len(frames), 1)
	}
	if cfg.AlignmentChunkSize > 0 {
		return cfg.AlignmentChunkSize
	}
	bytesPerFrame := int64(frames[0].Width()) * int64(frames[0].Height()) * 4 * 2 // source + resampled
	if bytesPerFrame <= 0 || cfg.AlignmentMemoryLimit <= 0 {
		return len(frames)
	}
	k := int(cfg.AlignmentMemoryLimit / bytesPerFrame)
	if k < 1 {
		k = 1
	}
	if k > len(frames) {
		k = len(frames)
	}
	return k
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// checkReprojectionPreconditions enforces that every frame carries a WCS and
// that the absolute plate scale along each axis agrees with the reference's
// within plateScaleTolerance.
func checkReprojectionPreconditions(frames []*fits.Frame) error {
	for _, f := range frames {
		if f.WCS == nil {
			return corefail.New(corefail.PreconditionFailed, f.FileName, "frame has no WCS")
		}
	}
	refX, refY := frames[0].WCS.PlateScale()
	refX, refY = math.Abs(refX), math.Abs(refY)
	for _, f := range frames[1:] {
		x, y := f.WCS.PlateScale()
		x, y = math.Abs(x), math.Abs(y)
		if math.Abs(x-refX) > plateScaleTolerance || math.Abs(y-refY) > plateScaleTolerance {
			return corefail.New(corefail.PreconditionFailed, f.FileName,
				"pixel scale mismatch: reference %.4fx%.4f arcsec/px, frame %.4fx%.4f arcsec/px", refX, refY, x, y)
		}
	}
	return nil
}

// reprojectFrame bilinearly resamples frame onto ref's pixel grid: for each
// reference pixel, find its world coordinate, then invert through frame's
// WCS to find the source pixel to sample.
func reprojectFrame(ref, frame *fits.Frame) (*fits.Frame, error) {
	destW, destH := ref.Width(), ref.Height()
	inverse := func(dx, dy float64) (float64, float64) {
		eq := ref.WCS.PixelToEquatorial(dx, dy)
		px, err := frame.WCS.EquatorialToPixel(eq)
		if err != nil {
			return -1, -1
		}
		return px.X, px.Y
	}

	data := BilinearResample(frame.Data, frame.Width(), frame.Height(), destW, destH, inverse, MinFiniteValue(frame.Data))

	out := fits.NewFrameLike(frame, data)
	out.Naxisn = []int32{destW, destH}
	out.Pixels = destW * destH
	out.Header.CopyWCSKeysFrom(ref.Header)
	out.WCS = cloneWCS(ref)
	return out, nil
}

// asterismAlignFrame detects stars in frame, matches its triangles against
// the reference's, fits a general affine transform (not constrained to
// rotation, translation and uniform scale), and resamples frame onto the
// reference's grid through it.
func asterismAlignFrame(ref, frame *fits.Frame, refStars []Star, refTriangles []triangle) (*fits.Frame, error) {
	bg, noise := backgroundStats(frame.Data)
	frameStars := detectStars(frame.Data, frame.Width(), frame.Height(), bg, noise, starDetectSigma)

	transform, _, err := matchAsterism(refStars, frameStars, refTriangles)
	if err != nil {
		return nil, err
	}
	inv, err := transform.Invert()
	if err != nil {
		return nil, corefail.Wrap(corefail.ResamplingError, frame.FileName, err)
	}

	destW, destH := ref.Width(), ref.Height()
	inverse := func(dx, dy float64) (float64, float64) {
		p := inv.Apply(Point2D{X: float32(dx), Y: float32(dy)})
		return float64(p.X), float64(p.Y)
	}

	data := BilinearResample(frame.Data, frame.Width(), frame.Height(), destW, destH, inverse, MinFiniteValue(frame.Data))

	out := fits.NewFrameLike(frame, data)
	out.Naxisn = []int32{destW, destH}
	out.Pixels = destW * destH
	out.Header.CopyWCSKeysFrom(ref.Header)
	out.WCS = cloneWCS(ref)
	return out, nil
}

// cloneWCS copies ref's WCS so the aligned frame owns an independent value,
// mirroring the pattern fits.NewFrameLike uses for its own deep copy.
func cloneWCS(ref *fits.Frame) *wcs.WCS {
	if ref.WCS == nil {
		return nil
	}
	cp := *ref.WCS
	return &cp
}
