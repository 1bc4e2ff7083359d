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

import "math"

// TaskState describes the current state of a task.
type TaskState int

const (
	// TaskPending is the state of a task that has not yet been started.
	TaskPending TaskState = iota
	// TaskRunning indicates that the task is being solved.
	TaskRunning
	// TaskConverged indicates that the iterations converged and the
	// emergent spectrum was computed.
	TaskConverged
	// TaskNotConverged indicates that the iteration limit was reached
	// before convergence.
	TaskNotConverged
	// TaskCrashed indicates a numerical failure. The task was skipped.
	TaskCrashed
)

var taskStates = [...]string{
	TaskPending:      "PENDING",
	TaskRunning:      "RUNNING",
	TaskConverged:    "CONVERGED",
	TaskNotConverged: "NOT_CONVERGED",
	TaskCrashed:      "CRASHED",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	return taskStates[s]
}

// Done tells whether s is a terminal state.
func (s TaskState) Done() bool { return s >= TaskConverged }

// Convergence flags as stored in the checkpoint.
const (
	Crashed      = -1
	NotConverged = 0
	Converged    = 1
)

// Flag returns the checkpoint convergence flag for a terminal state.
func (s TaskState) Flag() int {
	switch s {
	case TaskConverged:
		return Converged
	case TaskCrashed:
		return Crashed
	default:
		return NotConverged
	}
}

// TaskRecord is the per-task bookkeeping that is written to the
// checkpoint. The length of DeltaMaxHistory always equals Iterations,
// which is at least one.
type TaskRecord struct {
	Rank  int
	Task  int
	X, Y  int
	State TaskState

	Iterations      int
	Convergence     int
	DeltaMax        float64
	DeltaMaxHistory []float64
	ZCut            int
}

// NewTaskRecord returns the record of task t run by the given rank, with
// a single iteration and zeroed history. These defaults are what is
// written if the task crashes before reporting any iterations.
func NewTaskRecord(rank int, t Task) TaskRecord {
	return TaskRecord{
		Rank:            rank,
		Task:            t.Index,
		X:               t.X,
		Y:               t.Y,
		State:           TaskPending,
		Iterations:      1,
		DeltaMaxHistory: []float64{0},
	}
}

// setIterations records the iteration history reported by the solver,
// keeping the history length equal to the number of iterations.
func (r *TaskRecord) setIterations(res *IterationResult) {
	if res == nil {
		return
	}
	n := res.Iterations
	if n < 1 {
		n = 1
	}
	h := make([]float64, n)
	copy(h, res.DeltaMaxHistory)
	r.Iterations = n
	r.DeltaMaxHistory = h
	r.DeltaMax = res.DeltaMax
}

// finish moves the record to its terminal state s.
func (r *TaskRecord) finish(s TaskState) {
	r.State = s
	r.Convergence = s.Flag()
	if s == TaskCrashed {
		r.DeltaMax = 0
	}
}

// isCrashed tells whether a solve that ended with the maximum relative
// change d, in a run allowing maxIter iterations, has failed numerically.
// A change of exactly zero only counts as a failure when iterations were
// requested.
func isCrashed(d float64, maxIter int) bool {
	return math.IsNaN(d) || math.IsInf(d, 0) || d < 0 || (d == 0 && maxIter > 0)
}

// Classify returns the terminal state of a task whose iterations ended
// with the given result.
func Classify(res *IterationResult, maxIter int) TaskState {
	switch {
	case isCrashed(res.DeltaMax, maxIter):
		return TaskCrashed
	case res.Converged:
		return TaskConverged
	default:
		return TaskNotConverged
	}
}
