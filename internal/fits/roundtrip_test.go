package fits

import (
	"path/filepath"
	"testing"
)

// TestWriteReadRoundTrip implements spec.md §8's round-trip law: loading a
// frame, writing it unchanged, and reloading yields identical pixels and
// preserves every recognized header key.
func TestWriteReadRoundTrip(t *testing.T) {
	f := NewFrame()
	f.Naxisn = []int32{4, 3}
	f.Pixels = 12
	f.Data = make([]float32, 12)
	for i := range f.Data {
		f.Data[i] = float32(i) * 1.5
	}
	f.Exposure = 30
	f.Kind = Light
	f.Header.Strings["FILTER"] = "NARROWBAND"
	f.Header.Floats["GAIN"] = 1.25
	f.Header.Ints["XBINNING"] = 2
	f.Header.Bools["CUSTOMFLAG"] = true

	path := filepath.Join(t.TempDir(), "roundtrip.fits")
	if err := f.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reloaded, err := ReadFile(path, 0, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if !EqualInt32Slice(reloaded.Naxisn, f.Naxisn) {
		t.Fatalf("dimensions: got %v, want %v", reloaded.Naxisn, f.Naxisn)
	}
	for i, v := range f.Data {
		if reloaded.Data[i] != v {
			t.Fatalf("pixel %d: got %f, want %f", i, reloaded.Data[i], v)
		}
	}
	if reloaded.Exposure != f.Exposure {
		t.Errorf("exposure: got %f, want %f", reloaded.Exposure, f.Exposure)
	}
	if reloaded.Kind != f.Kind {
		t.Errorf("kind: got %v, want %v", reloaded.Kind, f.Kind)
	}
	if reloaded.Header.Strings["FILTER"] != "NARROWBAND" {
		t.Errorf("FILTER: got %q", reloaded.Header.Strings["FILTER"])
	}
	if reloaded.Header.Floats["GAIN"] != 1.25 {
		t.Errorf("GAIN: got %f", reloaded.Header.Floats["GAIN"])
	}
	if reloaded.Header.Ints["XBINNING"] != 2 {
		t.Errorf("XBINNING: got %d", reloaded.Header.Ints["XBINNING"])
	}
	if !reloaded.Header.Bools["CUSTOMFLAG"] {
		t.Error("CUSTOMFLAG: want true")
	}
}
