// Package platesolver defines the opaque external plate-solving contract.
// The core never solves a plate itself; it only consumes a solver's result
// as a WCS header block to merge into a frame's metadata. The contract's
// shape — named hint fields in, a result-or-error out — treats the actual
// solving engine as a black box the core deliberately does not depend on.
package platesolver

import (
	"context"
	"fmt"
	"time"

	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/wcs"
)

// Hints carries optional prior knowledge that narrows a solver's search:
// RA, Dec, search radius, pixel scale, and scale error.
type Hints struct {
	HasPosition bool
	RADeg       float64
	DecDeg      float64
	RadiusDeg   float64

	HasScale       bool
	ArcsecPerPixel float64
	ScaleErrorPct  float64
}

// Solution is the opaque WCS result a solver returns, to be merged into the
// frame's metadata, overwriting conflicting keys.
type Solution struct {
	WCS wcs.WCS
}

// Solver is the external plate-solver contract: solve(frame, hints) ->
// WcsSolution | Err. timeout should be cfg.SolverOfflineTimeoutSeconds or
// SolverOnlineTimeoutSeconds depending on implementation.
type Solver interface {
	Solve(ctx context.Context, data []float32, width, height int32, hints Hints, timeout time.Duration) (*Solution, error)
}

// Apply calls solver with frame's pixel data and hints, then merges the
// returned WCS into frame's header and WCS field in place, overwriting any
// conflicting keys, per spec.md §6's plate-solver contract. timeout should
// be cfg.SolverOfflineTimeoutSeconds or SolverOnlineTimeoutSeconds depending
// on whether solver runs locally or against a network service.
func Apply(ctx context.Context, solver Solver, frame *fits.Frame, hints Hints, timeout time.Duration) error {
	sol, err := solver.Solve(ctx, frame.Data, frame.Width(), frame.Height(), hints, timeout)
	if err != nil {
		return fmt.Errorf("plate solver: %w", err)
	}
	frame.WCS = &sol.WCS
	frame.Header.MergeWCS(&sol.WCS)
	return nil
}
