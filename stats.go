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

// RunStatistics counts task outcomes. Each worker keeps its own
// statistics; they are summed with Add for the final report.
type RunStatistics struct {
	Converged    int
	NotConverged int
	Crashed      int
}

// Count records a task that ended in state s.
func (s *RunStatistics) Count(state TaskState) {
	switch state {
	case TaskConverged:
		s.Converged++
	case TaskNotConverged:
		s.NotConverged++
	case TaskCrashed:
		s.Crashed++
	default:
		panic(fmt.Errorf("rh15d: counting task in non-terminal state %v", state))
	}
}

// Add returns the sum of s and o.
func (s RunStatistics) Add(o RunStatistics) RunStatistics {
	return RunStatistics{
		Converged:    s.Converged + o.Converged,
		NotConverged: s.NotConverged + o.NotConverged,
		Crashed:      s.Crashed + o.Crashed,
	}
}

// Total returns the number of finished tasks.
func (s RunStatistics) Total() int {
	return s.Converged + s.NotConverged + s.Crashed
}

// Computed returns the number of tasks that did not crash.
func (s RunStatistics) Computed() int {
	return s.Converged + s.NotConverged
}

func (s RunStatistics) String() string {
	return fmt.Sprintf("Total %d 1-D columns: %d computed (%d converged, %d not converged), %d crashed",
		s.Total(), s.Computed(), s.Converged, s.NotConverged, s.Crashed)
}
