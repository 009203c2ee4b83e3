package sequence

import (
	"testing"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
)

func gainFrame(gain float32) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{4, 4}
	f.Pixels = 16
	f.Data = make([]float32, 16)
	f.Header.Floats["GAIN"] = gain
	return f
}

// TestCheckConsistencyRejectsMismatchedGain verifies that GAIN =
// {100, 100, 200} fails with InconsistentSequence and reports the
// offending key and its distinct values.
func TestCheckConsistencyRejectsMismatchedGain(t *testing.T) {
	seq := New([]*fits.Frame{gainFrame(100), gainFrame(100), gainFrame(200)})

	err := seq.CheckConsistency([]config.TestedCard{{Name: "GAIN", Tolerance: 0}})
	if err == nil {
		t.Fatal("expected InconsistentSequence, got nil")
	}
	if !corefail.Is(err, corefail.InconsistentSequence) {
		t.Fatalf("expected InconsistentSequence, got %v", err)
	}
	if seq.Report.OK {
		t.Error("Report.OK: want false after a failed consistency check")
	}
	if seq.Report.OffendingKey != "GAIN" {
		t.Fatalf("offending key: got %q, want GAIN", seq.Report.OffendingKey)
	}
}

// TestCheckConsistencyToleratesSmallNumericDrift verifies a tolerance-based
// card (e.g. CCD-TEMP) accepts values within its configured tolerance.
func TestCheckConsistencyToleratesSmallNumericDrift(t *testing.T) {
	a := gainFrame(100)
	a.Header.Floats["CCD-TEMP"] = -10.2
	b := gainFrame(100)
	b.Header.Floats["CCD-TEMP"] = -10.6

	seq := New([]*fits.Frame{a, b})
	err := seq.CheckConsistency([]config.TestedCard{{Name: "CCD-TEMP", Tolerance: 1.0}})
	if err != nil {
		t.Fatalf("expected tolerance to absorb drift, got %v", err)
	}
}
