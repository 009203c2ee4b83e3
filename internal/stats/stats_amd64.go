// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

//go:build amd64

package stats

import "github.com/klauspost/cpuid"

// calcMinMeanMax dispatches to an 8-way unrolled accumulator loop on CPUs
// with AVX2, which the Go compiler's auto-vectorizer can pack into wide
// loads, and falls back to the scalar path otherwise.
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	if cpuid.CPU.AVX2() && len(data) >= 64 {
		return calcMinMeanMaxWide(data)
	}
	return calcMinMeanMaxPureGo(data)
}

func calcVariance(data []float32, mean float32) float64 {
	if cpuid.CPU.AVX2() && len(data) >= 64 {
		return calcVarianceWide(data, mean)
	}
	return calcVariancePureGo(data, mean)
}

// calcMinMeanMaxWide keeps 8 running accumulators, each advancing by a
// stride of 8, so independent min/max/sum chains have no loop-carried
// dependency between consecutive elements.
func calcMinMeanMaxWide(data []float32) (min, mean, max float32) {
	var mins, maxs [8]float32
	var sums [8]float64
	for i := 0; i < 8; i++ {
		mins[i], maxs[i] = data[i], data[i]
	}
	n := len(data)
	lanes := n - n%8
	for i := 0; i < lanes; i += 8 {
		for lane := 0; lane < 8; lane++ {
			v := data[i+lane]
			if v < mins[lane] {
				mins[lane] = v
			}
			if v > maxs[lane] {
				maxs[lane] = v
			}
			sums[lane] += float64(v)
		}
	}
	min, max, sum := mins[0], maxs[0], sums[0]
	for lane := 1; lane < 8; lane++ {
		if mins[lane] < min {
			min = mins[lane]
		}
		if maxs[lane] > max {
			max = maxs[lane]
		}
		sum += sums[lane]
	}
	for i := lanes; i < n; i++ {
		v := data[i]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += float64(v)
	}
	return min, float32(sum / float64(n)), max
}

func calcVarianceWide(data []float32, mean float32) float64 {
	var sums [8]float64
	n := len(data)
	lanes := n - n%8
	for i := 0; i < lanes; i += 8 {
		for lane := 0; lane < 8; lane++ {
			diff := float64(data[i+lane] - mean)
			sums[lane] += diff * diff
		}
	}
	total := float64(0)
	for _, s := range sums {
		total += s
	}
	for i := lanes; i < n; i++ {
		diff := float64(data[i] - mean)
		total += diff * diff
	}
	return total / float64(n)
}
