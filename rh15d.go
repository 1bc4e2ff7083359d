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

// Package rh15d distributes independent 1.5-D radiative transfer column
// solves over a fixed pool of workers, isolates numerical failures of
// individual columns, and records partial results into a shared
// checkpoint that a later run can resume into.
package rh15d

import "context"

// Version gives the version number.
const Version = "0.3.0"

// Column holds the depth-dependent state of a single atmospheric column
// after it has been loaded for solving.
type Column struct {
	// XNum and YNum are the indices of the column in the atmosphere file.
	XNum, YNum int

	// ZCut is the number of top depth points that were dropped from the
	// column. The arrays below start at that depth in the full grid.
	ZCut int

	Height      []float64 // [m]
	Temperature []float64 // [K]
	VelocityZ   []float64 // [m/s]
}

// NSpace returns the number of depth points in the column.
func (c *Column) NSpace() int { return len(c.Temperature) }

// IterationResult is the outcome of a main iteration loop.
type IterationResult struct {
	// Iterations is the number of iterations performed.
	Iterations int

	// DeltaMax is the final maximum relative change, and DeltaMaxHistory
	// holds its value after each iteration.
	DeltaMax        float64
	DeltaMaxHistory []float64

	// Converged is true if DeltaMax fell below the iteration limit.
	Converged bool
}

// Spectrum is the emergent spectrum of a column in a single direction.
type Spectrum struct {
	Mu         float64
	Wavelength []float64 // [nm]
	Intensity  []float64 // [J m-2 s-1 Hz-1 sr-1]

	// Selected holds the wavelength indices for which the depth-dependent
	// Opacity [m-1] and SourceFunction are also reported.
	Selected       []int
	Opacity        [][]float64
	SourceFunction [][]float64
}

// A ColumnSolver performs the numerical work for one column at a time.
// Each worker holds its own ColumnSolver, so implementations do not need
// to be safe for concurrent use.
type ColumnSolver interface {
	// Wavelengths returns the wavelength grid of the emergent spectrum.
	Wavelengths() []float64

	// Load reads the column at the given atmosphere indices. An error
	// is fatal for the run.
	Load(xnum, ynum int) (*Column, error)

	// Prepare performs the one-time setup that depends on the first
	// loaded column.
	Prepare(c *Column) error

	// Iterate runs the main iteration loop for at most maxIter iterations
	// or until the maximum relative change is below limit.
	Iterate(c *Column, maxIter int, limit float64) (*IterationResult, error)

	// SolveSpectrum performs one mean-field update over the full
	// wavelength grid and returns the residual.
	SolveSpectrum(c *Column) (float64, error)

	// SolveForDirection computes the emergent spectrum for the direction
	// cosine mu, reporting depth-dependent quantities for the selected
	// wavelength indices.
	SolveForDirection(c *Column, mu float64, selected []int) (*Spectrum, error)
}

// Checkpoint is the shared output dataset that workers write into.
// Writes from different workers go to disjoint cells.
type Checkpoint interface {
	// WriteColumn writes the depth-dependent column data for cell (x, y).
	WriteColumn(x, y int, c *Column) error

	// ClearColumn resets the column data of cell (x, y) to fill values.
	ClearColumn(x, y int) error

	// WriteTaskRecord writes the bookkeeping of one task.
	WriteTaskRecord(r *TaskRecord) error

	// WriteAllTaskRecords writes a batch of task records.
	WriteAllTaskRecords(recs []TaskRecord) error
}

// RayWriter receives the emergent spectrum of converged columns.
type RayWriter interface {
	WriteRay(x, y int, c *Column, s *Spectrum) error
}

// Comm identifies a worker within a group of workers and provides
// the collective synchronization between them.
type Comm interface {
	Rank() int
	Size() int

	// Barrier blocks until every worker in the group has called Barrier,
	// or until ctx is done.
	Barrier(ctx context.Context) error
}
