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
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	for _, test := range []struct {
		name      string
		d         float64
		converged bool
		maxIter   int
		want      TaskState
	}{
		{name: "nan", d: math.NaN(), maxIter: 10, want: TaskCrashed},
		{name: "+inf", d: math.Inf(1), maxIter: 10, want: TaskCrashed},
		{name: "-inf", d: math.Inf(-1), maxIter: 10, want: TaskCrashed},
		{name: "negative", d: -1e-3, converged: true, maxIter: 10, want: TaskCrashed},
		{name: "zero", d: 0, converged: true, maxIter: 10, want: TaskCrashed},
		{name: "zero without iterations", d: 0, maxIter: 0, want: TaskNotConverged},
		{name: "converged", d: 1e-4, converged: true, maxIter: 10, want: TaskConverged},
		{name: "not converged", d: 0.2, maxIter: 10, want: TaskNotConverged},
	} {
		t.Run(test.name, func(t *testing.T) {
			res := &IterationResult{DeltaMax: test.d, Converged: test.converged}
			if have := Classify(res, test.maxIter); have != test.want {
				t.Errorf("have %v, want %v", have, test.want)
			}
		})
	}
}

func TestTaskRecord_setIterations(t *testing.T) {
	r := NewTaskRecord(2, Task{Index: 5, X: 1, Y: 3})
	if r.Iterations != 1 || len(r.DeltaMaxHistory) != 1 {
		t.Fatalf("new record: %+v", r)
	}
	r.setIterations(&IterationResult{Iterations: 3, DeltaMax: 0.1, DeltaMaxHistory: []float64{0.5, 0.2}})
	if r.Iterations != 3 || len(r.DeltaMaxHistory) != 3 {
		t.Errorf("history length %d for %d iterations", len(r.DeltaMaxHistory), r.Iterations)
	}
	if r.DeltaMaxHistory[2] != 0 {
		t.Errorf("missing history should be zero, got %g", r.DeltaMaxHistory[2])
	}
	r.setIterations(&IterationResult{Iterations: 0})
	if r.Iterations != 1 || len(r.DeltaMaxHistory) != 1 {
		t.Errorf("zero iterations: %+v", r)
	}
}

func TestTaskRecord_finish(t *testing.T) {
	r := NewTaskRecord(0, Task{})
	r.DeltaMax = math.NaN()
	r.finish(TaskCrashed)
	if r.DeltaMax != 0 || r.Convergence != Crashed {
		t.Errorf("crashed record: %+v", r)
	}
	r.finish(TaskConverged)
	if r.Convergence != Converged || !r.State.Done() {
		t.Errorf("converged record: %+v", r)
	}
}
