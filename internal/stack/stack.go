// Package stack implements the integration core's final stage: reducing an
// aligned (or, in motion-only mode, un-aligned) sequence to a single Frame,
// per spec.md §4.5. Grounded in the teacher's internal/ops/stack
// (stack.go/stackbatch.go/stackbatches.go) for the chunked sigma-clipped
// reduction shape, generalized with the motion-tracking mode spec.md §4.5.c
// adds (internal/motion) and the explicit state machine spec.md §4.5
// describes.
package stack

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/oklog/ulid"
	"golang.org/x/sync/errgroup"

	"github.com/skystack/core/internal/align"
	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/corelog"
	"github.com/skystack/core/internal/ephemeris"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/motion"
	"github.com/skystack/core/internal/reduce"
	"github.com/skystack/core/internal/sequence"
	"github.com/skystack/core/internal/wcs"
)

// State is a stacking run's position in the state machine spec.md §4.5
// defines: Idle -> Validating -> (Computing-Shifts) -> Padding -> Reducing
// -> Finalizing -> Done, with Failed reachable from every non-terminal
// state.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateComputingShifts
	StatePadding
	StateReducing
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateValidating:
		return "Validating"
	case StateComputingShifts:
		return "Computing-Shifts"
	case StatePadding:
		return "Padding"
	case StateReducing:
		return "Reducing"
	case StateFinalizing:
		return "Finalizing"
	case StateDone:
		return "Done"
	default:
		return "Failed"
	}
}

// Input is the sequence the Stacker reduces: an AlignedSequence in the
// normal case, or an un-aligned Sequence in motion-only mode where the
// Aligner is skipped (spec.md §4.5.c). InputWCS carries the WCS of each
// frame as handed to the Stacker, needed by the §4.5.d inverse operation to
// map a stacked pixel back to world coordinates: FromSequence takes each
// frame's own WCS, and FromAligned takes the aligned frames' WCS, which for
// every resampled frame is a copy of the reference's.
type Input struct {
	Frames        []*fits.Frame
	Warnings      []*corefail.Warning
	InputWCS      []*wcs.WCS
	OriginalPaths []string
}

// FromAligned builds a stacker Input from an Aligner result.
func FromAligned(as *align.AlignedSequence) Input {
	in := Input{Frames: as.Frames, Warnings: as.Warnings}
	in.InputWCS = make([]*wcs.WCS, len(as.Frames))
	in.OriginalPaths = make([]string, len(as.Frames))
	for i, f := range as.Frames {
		in.InputWCS[i] = f.WCS
		in.OriginalPaths[i] = f.FileName
	}
	return in
}

// FromSequence builds a stacker Input directly from a Sequence, for
// motion-only mode where alignment is skipped entirely.
func FromSequence(seq *sequence.Sequence) Input {
	in := Input{Frames: seq.Frames}
	in.InputWCS = make([]*wcs.WCS, len(seq.Frames))
	in.OriginalPaths = make([]string, len(seq.Frames))
	for i, f := range seq.Frames {
		in.InputWCS[i] = f.WCS
		in.OriginalPaths[i] = f.FileName
	}
	return in
}

// MotionSpec configures motion-tracking mode, per spec.md §4.5.c.
type MotionSpec struct {
	Target                string
	Ephemeris             ephemeris.Source
	ReferenceTime         *time.Time
	AllowPartialEphemeris bool
}

// ScaleFunc computes an optional per-frame scale factor applied before
// reduction, e.g. 1/median(frame) for flats, per spec.md §4.5.a.
type ScaleFunc func(f *fits.Frame) float32

// Spec configures one stacking run.
type Spec struct {
	Op        config.ReduceOp
	SigmaClip bool
	Scale     ScaleFunc
	Motion    *MotionSpec
}

// Result is spec.md §3's StackResult: a Frame plus the metadata describing
// how it was produced.
type Result struct {
	Frame *fits.Frame

	Op                   config.ReduceOp
	SigmaLow, SigmaHigh  float32
	RejectedLow          int64
	RejectedHigh         int64

	MotionTracked  bool
	TrackedTarget  string
	ReferenceTime  time.Time
	Shifts         []motion.Shift
	Padding        motion.Padding
	ReferencePixel wcs.Pixel

	Chunked    bool
	ChunkCount int

	OriginalFiles []string
	InputWCS      []*wcs.WCS

	ULID string
}

// Stack reduces in to a single Frame per spec.md §4.5, polling ctx for
// cancellation at every frame and stripe boundary. On cancellation or any
// hard failure, no partial result is returned.
func Stack(ctx context.Context, in Input, cfg config.Config, spec Spec, progress corelog.ProgressFunc, logf corelog.LogFunc) (*Result, error) {
	if logf == nil {
		logf = corelog.NopLog
	}
	if progress == nil {
		progress = corelog.NopProgress
	}

	state := StateValidating
	if len(in.Frames) == 0 {
		return nil, corefail.New(corefail.EmptySequence, "", "stack input has no frames")
	}
	width, height := in.Frames[0].Width(), in.Frames[0].Height()
	for _, f := range in.Frames[1:] {
		if f.Width() != width || f.Height() != height {
			return nil, corefail.New(corefail.ShapeMismatch, f.FileName,
				"frame is %s, reference is %dx%d", f.DimensionsToString(), width, height)
		}
	}

	result := &Result{
		Op: spec.Op, SigmaLow: cfg.SigmaLow, SigmaHigh: cfg.SigmaHigh,
		OriginalFiles: append([]string(nil), in.OriginalPaths...),
		InputWCS:      in.InputWCS,
	}

	workFrames := in.Frames
	var pad motion.Padding
	canvasW, canvasH := width, height

	if spec.Motion != nil {
		state = StateComputingShifts
		logf(fmt.Sprintf("stack: %s", state))
		plan, err := motion.Compute(ctx, in.Frames, spec.Motion.Target, spec.Motion.Ephemeris, spec.Motion.ReferenceTime, spec.Motion.AllowPartialEphemeris)
		if err != nil {
			return nil, err
		}

		state = StatePadding
		logf(fmt.Sprintf("stack: %s", state))
		pad = motion.ComputePadding(plan.Shifts)
		canvasW = width + pad.Left + pad.Right
		canvasH = height + pad.Top + pad.Bottom

		shifted, err := shiftAllFrames(ctx, in.Frames, plan.Shifts, pad)
		if err != nil {
			return nil, err
		}
		workFrames = shifted

		result.MotionTracked = true
		result.TrackedTarget = spec.Motion.Target
		result.ReferenceTime = plan.ReferenceTime
		result.Shifts = plan.Shifts
		result.Padding = pad
		result.ReferencePixel = plan.ReferencePixel
	}

	state = StateReducing
	logf(fmt.Sprintf("stack: %s", state))
	reduced, rejLow, rejHigh, chunks, err := reduceStack(ctx, workFrames, canvasW, canvasH, cfg, spec, progress)
	if err != nil {
		return nil, err
	}
	result.RejectedLow, result.RejectedHigh = rejLow, rejHigh
	result.Chunked = chunks > 1
	result.ChunkCount = chunks

	state = StateFinalizing
	logf(fmt.Sprintf("stack: %s", state))
	var outData []float32
	if spec.Motion != nil {
		outData = motion.Crop(reduced, canvasW, pad, width, height)
	} else {
		outData = reduced
	}

	out := fits.NewFrameLike(in.Frames[0], outData)
	out.Naxisn = []int32{width, height}
	out.Pixels = width * height
	result.ULID = newULID()
	finalizeHeader(out, result)
	result.Frame = out

	state = StateDone
	logf(fmt.Sprintf("stack: %s", state))
	progress(1.0)
	return result, nil
}

// shiftAllFrames pads and shifts every frame in parallel (frame-parallel
// scheduling, spec.md §5), using golang.org/x/sync/errgroup for structured
// error propagation and a worker count defaulting to the hardware thread
// count.
func shiftAllFrames(ctx context.Context, frames []*fits.Frame, shifts []motion.Shift, pad motion.Padding) ([]*fits.Frame, error) {
	out := make([]*fits.Frame, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range frames {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return corefail.New(corefail.Cancelled, frames[i].FileName, "cancelled before shifting")
			}
			out[i] = motion.ShiftAndPad(frames[i], shifts[i], pad)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// reduceStack performs the chunked, row-stripe pixel-wise reduction,
// checking ctx at every stripe boundary per spec.md §5. When
// cfg.SumAccumulatorFloat64 is set and the operator is Sum without sigma
// clipping, accumulation runs in float64 to bound round-off (spec.md §9).
func reduceStack(ctx context.Context, frames []*fits.Frame, width, height int32, cfg config.Config, spec Spec, progress corelog.ProgressFunc) (out []float32, rejLow, rejHigh int64, chunks int, err error) {
	out = make([]float32, int(width)*int(height))

	scales := make([]float32, len(frames))
	for i, f := range frames {
		if spec.Scale != nil {
			scales[i] = spec.Scale(f)
		} else {
			scales[i] = 1
		}
	}

	memLimit := cfg.IntegrationMemoryLimit
	if cfg.IntegrationChunkSize > 0 {
		memLimit = int64(cfg.IntegrationChunkSize) * int64(width) * 4
	}
	rowsPerStripe := reduce.StripeRows(len(frames), width, height, memLimit)
	if rowsPerStripe < 1 {
		rowsPerStripe = 1
	}

	scaled := allNeutral(scales)
	lightsStripe := make([][]float32, len(frames))
	scratch := make([][]float32, len(frames))
	if !scaled {
		for i := range frames {
			scratch[i] = make([]float32, rowsPerStripe*width)
		}
	}

	useFloat64Sum := spec.Op == config.ReduceSum && cfg.SumAccumulatorFloat64 && !spec.SigmaClip

	for rowStart := int32(0); rowStart < height; rowStart += rowsPerStripe {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, 0, corefail.New(corefail.Cancelled, "", "stack cancelled at row %d", rowStart)
		}
		rowEnd := rowStart + rowsPerStripe
		if rowEnd > height {
			rowEnd = height
		}
		lo, hi := rowStart*width, rowEnd*width
		stripeLen := hi - lo

		for i, f := range frames {
			if scaled {
				lightsStripe[i] = f.Data[lo:hi]
				continue
			}
			buf := scratch[i][:stripeLen]
			s := scales[i]
			for j, v := range f.Data[lo:hi] {
				buf[j] = v * s
			}
			lightsStripe[i] = buf
		}

		if useFloat64Sum {
			sumStripeFloat64(lightsStripe, out[lo:hi])
		} else {
			rl, rh := reduce.Stripe(lightsStripe, spec.Op, spec.SigmaClip, cfg.SigmaLow, cfg.SigmaHigh, 0, out[lo:hi])
			rejLow += rl
			rejHigh += rh
		}
		chunks++
		progress(float32(rowEnd) / float32(height) * 0.9)
	}
	return out, rejLow, rejHigh, chunks, nil
}

func allNeutral(scales []float32) bool {
	for _, s := range scales {
		if s != 1 {
			return false
		}
	}
	return true
}

// sumStripeFloat64 accumulates in float64 before narrowing to float32, for
// long stacks where a float32 running sum would lose precision.
func sumStripeFloat64(lightsData [][]float32, res []float32) {
	for i := range res {
		sum := float64(0)
		for li := range lightsData {
			sum += float64(lightsData[li][i])
		}
		res[i] = float32(sum)
	}
}

func finalizeHeader(f *fits.Frame, r *Result) {
	f.Header.Bools["COMBINED"] = true
	f.Header.Bools["MOTION_TRACKED"] = r.MotionTracked
	f.Header.Bools["CHUNKED_PROCESSING"] = r.Chunked
	f.Header.Ints["TOTAL_CHUNKS"] = int32(r.ChunkCount)
	f.Header.Strings["ULID"] = r.ULID

	if files, err := json.Marshal(r.OriginalFiles); err == nil {
		f.Header.Strings["ORIGINAL_FILES"] = string(files)
	}

	if r.MotionTracked {
		f.Header.Strings["TRACKED_OBJECT"] = r.TrackedTarget
		f.Header.Strings["REFERENCE_TIME"] = r.ReferenceTime.UTC().Format(time.RFC3339)
		if shifts, err := json.Marshal(r.Shifts); err == nil {
			f.Header.Strings["MOTION_SHIFTS"] = string(shifts)
		}
		padTuple := [4]int32{r.Padding.Left, r.Padding.Right, r.Padding.Top, r.Padding.Bottom}
		if p, err := json.Marshal(padTuple); err == nil {
			f.Header.Strings["PADDING"] = string(p)
		}
		refPos := [2]float64{r.ReferencePixel.X, r.ReferencePixel.Y}
		if rp, err := json.Marshal(refPos); err == nil {
			f.Header.Strings["REFERENCE_POSITION"] = string(rp)
		}
	}
}

// Inverse implements spec.md §4.5.d for a motion-tracked Result: maps a
// pixel cursor in the stacked image back to every contributing input's
// pixel (and, when that input carried a WCS, world) coordinate.
func (r *Result) Inverse(cursor wcs.Pixel) (map[string]motion.InverseResult, error) {
	if !r.MotionTracked {
		return nil, fmt.Errorf("stack result was not motion-tracked")
	}
	results := motion.Inverse(cursor, r.Shifts, r.InputWCS)
	out := make(map[string]motion.InverseResult, len(results))
	for i, res := range results {
		key := fmt.Sprintf("%d", i)
		if i < len(r.OriginalFiles) && r.OriginalFiles[i] != "" {
			key = r.OriginalFiles[i]
		}
		out[key] = res
	}
	return out, nil
}

// newULID stamps a sortable generation identifier for a freshly produced
// StackResult, as observerly-skysolve does for its own generated artifacts.
func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Now(), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}
