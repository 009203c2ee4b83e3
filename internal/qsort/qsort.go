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

// Package qsort provides quickselect-based order statistics over float32
// slices: the median pick the calibration master builder and the stacker's
// sigma-clipping loop run on every pixel stack, and the first-quartile pick
// internal/stats uses for its Qn scale estimate.
package qsort

// SortFloat32 sorts a in ascending order. a must not contain IEEE NaN.
func SortFloat32(a []float32) {
	if len(a) > 1 {
		index := PartitionFloat32(a)
		SortFloat32(a[:index+1])
		SortFloat32(a[index+1:])
	}
}

// PartitionFloat32 partitions a around its middle element as pivot and
// returns the pivot index. Values less than the pivot end up left of it,
// values greater end up right of it. a must not contain IEEE NaN.
func PartitionFloat32(a []float32) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l, r := left-1, right+1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// QSelectFirstQuartileFloat32 returns the first-quartile element of a,
// partially reordering it. a must not contain IEEE NaN.
func QSelectFirstQuartileFloat32(a []float32) float32 {
	return QSelectFloat32(a, (len(a)>>2)+1)
}

// QSelectMedianFloat32 returns the median of a, partially reordering it;
// for an even length this is the mean of the two middle elements. a must
// not contain IEEE NaN.
func QSelectMedianFloat32(a []float32) float32 {
	n := len(a)
	hi := QSelectFloat32(a, (n>>1)+1)
	if n&1 != 0 {
		return hi
	}
	// QSelectFloat32 leaves the n/2 smallest values in a[:n/2].
	lo := a[0]
	for _, v := range a[1 : n>>1] {
		if v > lo {
			lo = v
		}
	}
	return (lo + hi) / 2
}

// QSelectFloat32 returns the kth lowest element of a (1-indexed), partially
// reordering it. a must not contain IEEE NaN.
func QSelectFloat32(a []float32, k int) float32 {
	left, right := 0, len(a)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r
		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// MedianFloat32Slice9 returns the median of a nine-element float32 slice
// using a fixed sorting network, such as the values of a 3x3 pixel
// neighborhood. Modifies a in place. a must not contain IEEE NaN.
func MedianFloat32Slice9(a []float32) float32 {
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] {
		a[3] = a[0]
	}
	if a[3] > a[6] {
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] {
		a[4] = a[7]
	}
	if a[1] > a[4] {
		a[4] = a[1]
	}
	if a[5] > a[8] {
		a[5] = a[8]
	}
	if a[2] > a[5] {
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] {
		a[4] = a[6]
	}
	if a[2] > a[4] {
		a[4] = a[2]
	}
	return a[4]
}
