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

import (
	"reflect"
	"testing"
)

func TestAssign(t *testing.T) {
	ranges, err := Assign(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []Range{{Start: 0, Count: 4}, {Start: 4, Count: 3}, {Start: 7, Count: 3}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("have %v, want %v", ranges, want)
	}
}

// Every task must be assigned to exactly one worker, in order, with
// range sizes differing by at most one.
func TestAssign_partition(t *testing.T) {
	for ntasks := 0; ntasks < 40; ntasks++ {
		for nworkers := 1; nworkers < 12; nworkers++ {
			ranges, err := Assign(ntasks, nworkers)
			if err != nil {
				t.Fatal(err)
			}
			if len(ranges) != nworkers {
				t.Fatalf("%d/%d: %d ranges", ntasks, nworkers, len(ranges))
			}
			next := 0
			min, max := ntasks, 0
			for _, r := range ranges {
				if r.Start != next {
					t.Errorf("%d/%d: range %v starts at %d, want %d", ntasks, nworkers, r, r.Start, next)
				}
				next = r.End()
				if r.Count < min {
					min = r.Count
				}
				if r.Count > max {
					max = r.Count
				}
			}
			if next != ntasks {
				t.Errorf("%d/%d: ranges end at %d", ntasks, nworkers, next)
			}
			if max-min > 1 {
				t.Errorf("%d/%d: imbalance %d", ntasks, nworkers, max-min)
			}
		}
	}
}

func TestAssign_moreWorkersThanTasks(t *testing.T) {
	ranges, err := Assign(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []Range{{0, 1}, {1, 1}, {2, 0}, {2, 0}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("have %v, want %v", ranges, want)
	}
}

func TestAssign_errors(t *testing.T) {
	if _, err := Assign(10, 0); err == nil {
		t.Error("zero workers should be an error")
	}
	if _, err := Assign(-1, 2); err == nil {
		t.Error("negative number of tasks should be an error")
	}
}
