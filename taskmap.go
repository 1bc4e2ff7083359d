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

// Region selects a sub-grid of the atmosphere. Start is inclusive and
// End is exclusive. An End less than or equal to zero selects up to the
// edge of the atmosphere, and a Step of zero is treated as one.
type Region struct {
	XStart, XEnd, XStep int
	YStart, YEnd, YStep int
}

// Task is a single column to be solved.
type Task struct {
	// Index is the position of the task in the TaskMap.
	Index int

	// X and Y are the indices of the output cell.
	X, Y int

	// XNum and YNum are the indices of the column in the atmosphere.
	XNum, YNum int
}

// TaskMap holds the tasks of a run in raster order, with Y varying
// fastest. Every cell of the region appears exactly once unless it has
// been removed with Filter.
type TaskMap struct {
	// XNum and YNum map output cell indices to atmosphere indices.
	XNum, YNum []int

	Tasks []Task
}

// axis returns the atmosphere indices selected along one axis.
func axis(name string, start, end, step, n int) ([]int, error) {
	if step == 0 {
		step = 1
	}
	if end <= 0 {
		end = n
	}
	switch {
	case step < 0:
		return nil, fmt.Errorf("rh15d: %s step=%d but should be >0", name, step)
	case start < 0 || start >= n:
		return nil, fmt.Errorf("rh15d: %s start=%d is outside of the atmosphere [0,%d)", name, start, n)
	case end > n:
		return nil, fmt.Errorf("rh15d: %s end=%d is beyond the atmosphere size %d", name, end, n)
	case end <= start:
		return nil, fmt.Errorf("rh15d: %s end=%d should be larger than start=%d", name, end, start)
	}
	var idx []int
	for i := start; i < end; i += step {
		idx = append(idx, i)
	}
	return idx, nil
}

// NewTaskMap returns the tasks for region r of an atmosphere with nx by ny
// columns.
func NewTaskMap(r Region, nx, ny int) (*TaskMap, error) {
	xnum, err := axis("x", r.XStart, r.XEnd, r.XStep, nx)
	if err != nil {
		return nil, err
	}
	ynum, err := axis("y", r.YStart, r.YEnd, r.YStep, ny)
	if err != nil {
		return nil, err
	}
	tm := &TaskMap{
		XNum:  xnum,
		YNum:  ynum,
		Tasks: make([]Task, 0, len(xnum)*len(ynum)),
	}
	for ix, xn := range xnum {
		for iy, yn := range ynum {
			tm.Tasks = append(tm.Tasks, Task{
				Index: len(tm.Tasks),
				X:     ix,
				Y:     iy,
				XNum:  xn,
				YNum:  yn,
			})
		}
	}
	return tm, nil
}

// Len returns the number of tasks.
func (tm *TaskMap) Len() int { return len(tm.Tasks) }

// Shape returns the number of output cells in the x and y directions.
func (tm *TaskMap) Shape() (nx, ny int) { return len(tm.XNum), len(tm.YNum) }

// Filter removes the tasks for which keep returns false, preserving the
// order of the remaining tasks and renumbering them.
func (tm *TaskMap) Filter(keep func(t Task) bool) {
	tasks := tm.Tasks[:0]
	for _, t := range tm.Tasks {
		if keep(t) {
			t.Index = len(tasks)
			tasks = append(tasks, t)
		}
	}
	tm.Tasks = tasks
}

// Range returns the tasks in r.
func (tm *TaskMap) Range(r Range) []Task {
	return tm.Tasks[r.Start : r.Start+r.Count]
}
