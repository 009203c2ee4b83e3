// Package config holds the single, process-wide configuration block. A
// Config is loaded once at startup and treated as immutable thereafter: no
// constructor in this module accepts a *Config, only a Config value, so a
// caller cannot mutate shared state through an alias.
package config

import "github.com/pbnjay/memory"

// TestedCard names one FITS header key tracked for sequence consistency,
// together with the absolute tolerance applied to it. A tolerance of 0
// means exact match (used for string-valued or integer keys).
type TestedCard struct {
	Name      string
	Tolerance float64
}

// AlignMethod selects the alignment strategy the Aligner uses, modeled as a
// tagged variant per spec.md §9 ("Dynamic dispatch").
type AlignMethod int

const (
	AlignReprojection AlignMethod = iota
	AlignAsterism
)

// ReduceOp selects the Stacker's pixel-wise reduction operator.
type ReduceOp int

const (
	ReduceMean ReduceOp = iota
	ReduceMedian
	ReduceSum
)

// Config is the single immutable configuration value threaded through every
// stage's constructor. See spec.md §6 for the recognized keys.
type Config struct {
	CalibrationPath   string
	DataPath          string
	ObservatoryCode   string

	TempTolerance     float64 // degrees C
	ExposureTolerance float64 // seconds

	SigmaLow  float32
	SigmaHigh float32

	IntegrationMemoryLimit int64 // bytes
	IntegrationChunkSize   int   // frames, 0 = auto

	AlignmentMemoryLimit  int64 // bytes
	AlignmentChunkSize    int   // frames, 0 = auto
	AlignmentEnableChunked bool
	AlignmentDefaultMethod  AlignMethod
	AlignmentFallbackMethod AlignMethod

	MaxAlignmentImages   int
	MaxIntegrationImages int

	MotionTrackingSigmaClip bool
	MotionTrackingMethod    ReduceOp

	SolverOfflineTimeoutSeconds int
	SolverOnlineTimeoutSeconds  int

	// EphemerisTimeoutSeconds bounds a single batch ephemeris query.
	EphemerisTimeoutSeconds int
	// StatusTimeoutSeconds bounds a network status/health call.
	StatusTimeoutSeconds int

	TestedFITSCards []TestedCard

	// BadPixelSigmaLow/High bound the Calibrator's optional hot/cold pixel
	// scrub: a pixel whose deviation from its 3x3 median-filtered value
	// exceeds sigma*noise is replaced by the filtered value. Grounded in
	// the teacher's OpBadPixel.
	BadPixelSigmaLow  float32
	BadPixelSigmaHigh float32

	// ExactChunkedMedian records the chunked-median exactness choice
	// (default true). No code path reads it: chunked reductions run in row
	// stripes that hold every frame's samples for those rows, so their
	// result always equals a single-pass reduction, and no median-of-medians
	// approximation is implemented.
	ExactChunkedMedian bool

	// SumAccumulatorFloat64 opts long sum-stacks into float64 running
	// accumulators to bound round-off, per spec.md §9 ("Numeric precision").
	SumAccumulatorFloat64 bool
}

// Default returns a Config populated with the default values spec.md §4
// lists explicitly, sized against the machine's physical memory the way the
// teacher's batch sizing (internal/batch.go) does via github.com/pbnjay/memory.
func Default() Config {
	total := int64(memory.TotalMemory())
	budget := total / 4 // reserve the rest for the OS, workers, and other stages
	if budget <= 0 {
		budget = 1 << 30 // 1 GiB fallback when the query fails
	}
	return Config{
		TempTolerance:     1.0,
		ExposureTolerance: 0.5,
		SigmaLow:          4,
		SigmaHigh:         3,

		IntegrationMemoryLimit: budget,
		AlignmentMemoryLimit:   budget,
		AlignmentEnableChunked: true,
		AlignmentDefaultMethod:  AlignReprojection,
		AlignmentFallbackMethod: AlignAsterism,

		MaxAlignmentImages:   4096,
		MaxIntegrationImages: 4096,

		MotionTrackingSigmaClip: true,
		MotionTrackingMethod:    ReduceMean,

		SolverOfflineTimeoutSeconds: 30,
		SolverOnlineTimeoutSeconds:  300,
		EphemerisTimeoutSeconds:     60,
		StatusTimeoutSeconds:        30,

		TestedFITSCards: []TestedCard{
			{Name: "GAIN", Tolerance: 0},
			{Name: "OFFSET", Tolerance: 0},
			{Name: "XBINNING", Tolerance: 0},
			{Name: "YBINNING", Tolerance: 0},
			{Name: "FILTER", Tolerance: 0},
			{Name: "CCD-TEMP", Tolerance: 1.0},
			{Name: "EXPTIME", Tolerance: 0.5},
		},

		ExactChunkedMedian:    true,
		SumAccumulatorFloat64: false,

		BadPixelSigmaLow:  5,
		BadPixelSigmaHigh: 5,
	}
}
