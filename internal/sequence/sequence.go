// Package sequence groups loaded frames and checks their mutual
// consistency before they are handed to the Calibrator or Aligner.
package sequence

import (
	"fmt"

	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/fits"
)

// Sequence is an ordered list of frames plus the outcome of their last
// consistency check.
type Sequence struct {
	Frames []*fits.Frame
	Report ConsistencyReport
}

// ConsistencyReport records whether every frame agreed on every tested
// card and, if not, the first offending key and its distinct values.
type ConsistencyReport struct {
	OK          bool
	OffendingKey string
	Values      []string // distinct stringified values seen for OffendingKey
}

// New wraps frames into a Sequence without checking consistency.
func New(frames []*fits.Frame) *Sequence {
	return &Sequence{Frames: frames}
}

// CheckConsistency compares every configured tested card across the
// sequence: exact match for a zero-tolerance card, absolute tolerance
// otherwise. The first offending key is reported with the distinct values
// observed.
func (s *Sequence) CheckConsistency(cards []config.TestedCard) error {
	if len(s.Frames) == 0 {
		return corefail.New(corefail.EmptySequence, "", "sequence has no frames")
	}

	for _, card := range cards {
		seen := map[string]bool{}
		var order []string
		var numeric []float64
		isNumeric := true

		for _, f := range s.Frames {
			v, ok := cardValue(f, card.Name)
			if !ok {
				continue
			}
			if !seen[v] {
				seen[v] = true
				order = append(order, v)
			}
			if fv, ok := f.Header.Floats[card.Name]; ok {
				numeric = append(numeric, float64(fv))
			} else if iv, ok := f.Header.Ints[card.Name]; ok {
				numeric = append(numeric, float64(iv))
			} else {
				isNumeric = false
			}
		}

		if len(order) <= 1 {
			continue
		}

		if card.Tolerance > 0 && isNumeric && len(numeric) == len(s.Frames) {
			min, max := numeric[0], numeric[0]
			for _, v := range numeric {
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
			if max-min <= card.Tolerance {
				continue
			}
		}

		s.Report = ConsistencyReport{OK: false, OffendingKey: card.Name, Values: order}
		return corefail.New(corefail.InconsistentSequence, "",
			"key %s has inconsistent values %v across the sequence", card.Name, order)
	}

	s.Report = ConsistencyReport{OK: true}
	return nil
}

func cardValue(f *fits.Frame, key string) (string, bool) {
	if v, ok := f.Header.Strings[key]; ok {
		return v, true
	}
	if v, ok := f.Header.Floats[key]; ok {
		return fmt.Sprintf("%g", v), true
	}
	if v, ok := f.Header.Ints[key]; ok {
		return fmt.Sprintf("%d", v), true
	}
	if v, ok := f.Header.Bools[key]; ok {
		return fmt.Sprintf("%t", v), true
	}
	return "", false
}
