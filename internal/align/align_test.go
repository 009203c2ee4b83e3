package align

import (
	"testing"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/sequence"
	"github.com/skystack/core/internal/wcs"
)

func wcsFrame(width, height int32, arcsecPerPixel float64) *fits.Frame {
	f := fits.NewFrame()
	f.Naxisn = []int32{width, height}
	f.Pixels = width * height
	f.Data = make([]float32, width*height)
	w := wcs.NewFromCD(float64(width)/2, float64(height)/2, 10, 0, arcsecPerPixel/3600.0, 0, 0, arcsecPerPixel/3600.0)
	f.WCS = &w
	return f
}

// TestAlignReprojectionPlateScaleMismatch verifies that two same-sized
// frames at 1.00 and 1.03 arcsec/pixel fail reprojection with
// PreconditionFailed.
func TestAlignReprojectionPlateScaleMismatch(t *testing.T) {
	f1 := wcsFrame(64, 64, 1.00)
	f2 := wcsFrame(64, 64, 1.03)
	seq := sequence.New([]*fits.Frame{f1, f2})

	_, err := Align(seq, config.AlignReprojection, config.Default())
	if err == nil {
		t.Fatal("expected PreconditionFailed, got nil")
	}
	if !corefail.Is(err, corefail.PreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
}

// TestAlignReprojectionIdentityIsNoOp verifies two frames sharing the same
// WCS align without resampling artifacts: the reference passes through
// unchanged and a frame with identical WCS resamples to itself.
func TestAlignReprojectionIdentityIsNoOp(t *testing.T) {
	f1 := wcsFrame(32, 32, 1.0)
	for i := range f1.Data {
		f1.Data[i] = float32(i)
	}
	f2 := wcsFrame(32, 32, 1.0)
	copy(f2.Data, f1.Data)

	seq := sequence.New([]*fits.Frame{f1, f2})
	result, err := Align(seq, config.AlignReprojection, config.Default())
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if result.Frames[0] != f1 {
		t.Error("reference frame should pass through unchanged")
	}
	for i := range f1.Data {
		if result.Frames[1].Data[i] != f1.Data[i] {
			t.Fatalf("pixel %d: got %f, want %f (identical WCS should resample to itself)", i, result.Frames[1].Data[i], f1.Data[i])
		}
	}
}
