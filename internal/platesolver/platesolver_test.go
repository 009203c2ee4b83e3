package platesolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/wcs"
)

type stubSolver struct {
	sol *Solution
	err error
}

func (s *stubSolver) Solve(ctx context.Context, data []float32, width, height int32, hints Hints, timeout time.Duration) (*Solution, error) {
	return s.sol, s.err
}

func TestApplyMergesWCSIntoFrame(t *testing.T) {
	f := fits.NewFrame()
	f.Naxisn = []int32{200, 200}
	f.Data = make([]float32, 200*200)
	f.Header.Floats["CRPIX1"] = 1
	f.Header.Floats["PC1_1"] = 1 // stale product-form card, must be removed by the merge

	w := wcs.NewFromCD(100, 100, 10.5, 41.2, 0.0002, 0, 0, 0.0002)
	solver := &stubSolver{sol: &Solution{WCS: w}}

	hints := Hints{HasPosition: true, RADeg: 10.5, DecDeg: 41.2, RadiusDeg: 2}
	if err := Apply(context.Background(), solver, f, hints, 30*time.Second); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if f.WCS == nil {
		t.Fatalf("frame.WCS not set after Apply")
	}
	if f.WCS.CRVAL1 != 10.5 || f.WCS.CRVAL2 != 41.2 {
		t.Fatalf("unexpected WCS: %+v", f.WCS)
	}
	if got := f.Header.Floats["CRPIX1"]; got != 100 {
		t.Fatalf("header CRPIX1 not overwritten: got %v", got)
	}
	if _, stale := f.Header.Floats["PC1_1"]; stale {
		t.Fatalf("stale PC1_1 card should have been removed by the merge")
	}
}

func TestApplyPropagatesSolverError(t *testing.T) {
	f := fits.NewFrame()
	solver := &stubSolver{err: errors.New("no match")}
	if err := Apply(context.Background(), solver, f, Hints{}, time.Second); err == nil {
		t.Fatal("expected error to propagate")
	}
}
