/*
Copyright © 2019 the rh15d authors.
This file is part of rh15d.

rh15d is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

rh15d is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with rh15d.  If not, see <http://www.gnu.org/licenses/>.
*/

package rh15d

import "fmt"

// Range is a contiguous block of tasks [Start, Start+Count).
type Range struct {
	Start, Count int
}

// End returns the index one past the last task in the range.
func (r Range) End() int { return r.Start + r.Count }

// Assign splits ntasks tasks into nworkers contiguous ranges whose sizes
// differ by at most one. The remainder is spread over the first ranges,
// so with 10 tasks and 3 workers the ranges are [0,4), [4,7) and [7,10).
// Workers beyond the number of tasks receive empty ranges.
func Assign(ntasks, nworkers int) ([]Range, error) {
	if nworkers <= 0 {
		return nil, fmt.Errorf("rh15d: number of workers is %d but should be >0", nworkers)
	}
	if ntasks < 0 {
		return nil, fmt.Errorf("rh15d: number of tasks is %d but should be >=0", ntasks)
	}
	n := ntasks / nworkers
	remainder := ntasks % nworkers
	ranges := make([]Range, nworkers)
	for rank := range ranges {
		start := rank*n + remainder
		count := n
		if rank < remainder {
			start = rank * (n + 1)
			count = n + 1
		}
		ranges[rank] = Range{Start: start, Count: count}
	}
	return ranges, nil
}
