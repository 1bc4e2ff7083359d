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

// Package checkpoint stores the results of a run in a netCDF file that
// is shared by all workers and can be resumed into by a later run.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/rh15d"
)

// Sentinel values of cells that have not been written.
const (
	FillValue    float32 = 9.96921e+36
	IntFillValue int32   = -2147483647
)

// Variable names. Groups are expressed as name prefixes.
const (
	VarTemperature = "atmosphere.temperature"
	VarVelocityZ   = "atmosphere.velocity_z"
	VarHeight      = "atmosphere.height_scale"

	VarTaskMap     = "run.task_map"
	VarTaskNumber  = "run.task_number"
	VarIterations  = "run.iterations"
	VarConvergence = "run.convergence"
	VarDeltaMax    = "run.delta_max"
	VarZCut        = "run.z_cut"
	VarHistory     = "run.delta_max_history"
)

// Config describes the layout and metadata of a checkpoint.
type Config struct {
	Path string

	// NX and NY are the number of output cells and NZ the number of depth
	// points of the full atmosphere.
	NX, NY, NZ int

	// MaxIter is the capacity of the per-cell iteration history.
	MaxIter int

	// XNum and YNum are the atmosphere indices of the output cells, and
	// X and Y their coordinates [m].
	XNum, YNum []int
	X, Y       []float64

	// AtmosID identifies the atmosphere that the run was started from.
	AtmosID string

	// ConfigHash identifies the numerical settings of the run.
	ConfigHash string

	// Attributes holds additional global attributes, which are written
	// once when the file is created.
	Attributes map[string]interface{}

	// Overwrite allows an existing file to be replaced on creation.
	Overwrite bool
}

func (c *Config) validate() error {
	switch {
	case c.NX <= 0 || c.NY <= 0 || c.NZ <= 0:
		return fmt.Errorf("checkpoint: invalid dimensions nx=%d, ny=%d, nz=%d", c.NX, c.NY, c.NZ)
	case c.MaxIter <= 0:
		return fmt.Errorf("checkpoint: iteration history capacity=%d but should be >0", c.MaxIter)
	case len(c.XNum) != c.NX || len(c.YNum) != c.NY:
		return fmt.Errorf("checkpoint: %d x indices and %d y indices for nx=%d, ny=%d", len(c.XNum), len(c.YNum), c.NX, c.NY)
	case c.X != nil && len(c.X) != c.NX, c.Y != nil && len(c.Y) != c.NY:
		return fmt.Errorf("checkpoint: coordinate lengths do not match nx=%d, ny=%d", c.NX, c.NY)
	}
	return nil
}

func (c *Config) header() *cdf.Header {
	h := cdf.NewHeader([]string{"x", "y", "z", "iteration"}, []int{c.NX, c.NY, c.NZ, c.MaxIter})
	h.AddAttribute("", "nx", []int32{int32(c.NX)})
	h.AddAttribute("", "ny", []int32{int32(c.NY)})
	h.AddAttribute("", "nz", []int32{int32(c.NZ)})
	h.AddAttribute("", "atmosID", c.AtmosID)
	h.AddAttribute("", "rev_id", rh15d.Version)
	h.AddAttribute("", "config_hash", c.ConfigHash)
	addAttributes(h, c.Attributes)

	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddAttribute("x", "units", "m")
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddAttribute("y", "units", "m")
	h.AddVariable("xnum", []string{"x"}, []int32{0})
	h.AddVariable("ynum", []string{"y"}, []int32{0})

	for _, v := range []struct{ name, desc, units string }{
		{VarTemperature, "Temperature", "K"},
		{VarVelocityZ, "Vertical velocity", "m s-1"},
		{VarHeight, "Height scale", "m"},
	} {
		h.AddVariable(v.name, []string{"x", "y", "z"}, []float32{0})
		h.AddAttribute(v.name, "description", v.desc)
		h.AddAttribute(v.name, "units", v.units)
		h.AddAttribute(v.name, "_FillValue", []float32{FillValue})
	}
	for _, v := range []struct{ name, desc string }{
		{VarTaskMap, "Rank of the worker that solved the column"},
		{VarTaskNumber, "Task number within the run"},
		{VarIterations, "Number of iterations"},
		{VarConvergence, "Convergence flag: 1 converged, 0 not converged, -1 crashed"},
		{VarZCut, "Number of top depth points removed from the column"},
	} {
		h.AddVariable(v.name, []string{"x", "y"}, []int32{0})
		h.AddAttribute(v.name, "description", v.desc)
		h.AddAttribute(v.name, "_FillValue", []int32{IntFillValue})
	}
	h.AddVariable(VarDeltaMax, []string{"x", "y"}, []float32{0})
	h.AddAttribute(VarDeltaMax, "description", "Final maximum relative change")
	h.AddAttribute(VarDeltaMax, "_FillValue", []float32{FillValue})
	h.AddVariable(VarHistory, []string{"x", "y", "iteration"}, []float32{0})
	h.AddAttribute(VarHistory, "description", "Maximum relative change after each iteration")
	h.AddAttribute(VarHistory, "_FillValue", []float32{FillValue})
	h.Define()
	return h
}

// init writes the coordinate variables.
func (c *Config) init(f *cdf.File) error {
	xnum := make([]int32, c.NX)
	for i, v := range c.XNum {
		xnum[i] = int32(v)
	}
	ynum := make([]int32, c.NY)
	for i, v := range c.YNum {
		ynum[i] = int32(v)
	}
	if err := writeSlab(f, "xnum", []int{0}, xnum, c.NX); err != nil {
		return err
	}
	if err := writeSlab(f, "ynum", []int{0}, ynum, c.NY); err != nil {
		return err
	}
	x, y := c.X, c.Y
	if x == nil {
		x = make([]float64, c.NX)
	}
	if y == nil {
		y = make([]float64, c.NY)
	}
	if err := writeSlab(f, "x", []int{0}, x, c.NX); err != nil {
		return err
	}
	return writeSlab(f, "y", []int{0}, y, c.NY)
}

// DimensionError reports a checkpoint whose shape does not match the
// current run.
type DimensionError struct {
	Name       string
	File, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("checkpoint: %s=%d in existing file but %d in this run", e.Name, e.File, e.Want)
}

// Store is one worker's handle to the checkpoint.
type Store struct {
	*shared
	nx, ny, nz, niter int
}

// Create creates a new checkpoint with every cell set to its fill value.
// It must be called by every worker in comm.
func Create(ctx context.Context, comm rh15d.Comm, c *Config) (*Store, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	s, err := createShared(ctx, comm, c.Path, c.Overwrite, c.header(), c.init)
	if err != nil {
		return nil, err
	}
	return &Store{shared: s, nx: c.NX, ny: c.NY, nz: c.NZ, niter: c.MaxIter}, nil
}

// Open opens an existing checkpoint to resume a run. Existing contents
// are kept except where they are overwritten by the current run. The
// checkpoint dimensions must match c; a different atmosphere or
// configuration only produces a warning. Open must be called by every
// worker in comm.
func Open(ctx context.Context, comm rh15d.Comm, c *Config, log logrus.FieldLogger) (*Store, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	validate := func(f *cdf.File) error {
		for _, d := range []struct {
			name string
			want int
		}{{"nx", c.NX}, {"ny", c.NY}, {"nz", c.NZ}} {
			v, ok := intAttr(f, d.name)
			if !ok {
				return fmt.Errorf("checkpoint: %s is missing attribute %s", c.Path, d.name)
			}
			if v != d.want {
				return &DimensionError{Name: d.name, File: v, Want: d.want}
			}
		}
		l := f.Header.Lengths(VarHistory)
		if len(l) != 3 {
			return fmt.Errorf("checkpoint: %s is missing variable %s", c.Path, VarHistory)
		}
		if l[2] != c.MaxIter {
			return &DimensionError{Name: "iteration", File: l[2], Want: c.MaxIter}
		}
		if comm.Rank() == 0 {
			if id := stringAttr(f, "atmosID"); id != c.AtmosID {
				log.WithFields(logrus.Fields{"file": id, "run": c.AtmosID}).
					Warn("checkpoint atmosphere ID does not match the input atmosphere")
			}
			if h := stringAttr(f, "config_hash"); h != c.ConfigHash {
				log.Warn("checkpoint was written with different iteration settings")
			}
		}
		return nil
	}
	s, err := openShared(ctx, comm, c.Path, validate)
	if err != nil {
		return nil, err
	}
	return &Store{shared: s, nx: c.NX, ny: c.NY, nz: c.NZ, niter: c.MaxIter}, nil
}

// Close waits for all workers to finish writing and releases the file.
// It must be called exactly once by every worker.
func (s *Store) Close(ctx context.Context) error { return s.close(ctx) }

func (s *Store) checkCell(x, y int) error {
	if x < 0 || x >= s.nx || y < 0 || y >= s.ny {
		return fmt.Errorf("checkpoint: cell (%d,%d) outside of [0,%d)x[0,%d)", x, y, s.nx, s.ny)
	}
	return nil
}

// WriteColumn writes the depth-dependent quantities of column c into
// cell (x, y), starting at depth c.ZCut.
func (s *Store) WriteColumn(x, y int, c *rh15d.Column) error {
	if err := s.checkCell(x, y); err != nil {
		return err
	}
	n := c.NSpace()
	if c.ZCut < 0 || c.ZCut+n > s.nz {
		return fmt.Errorf("checkpoint: column of %d points at depth %d does not fit nz=%d", n, c.ZCut, s.nz)
	}
	begin := []int{x, y, c.ZCut}
	for _, v := range []struct {
		name string
		data []float64
	}{
		{VarTemperature, c.Temperature},
		{VarVelocityZ, c.VelocityZ},
		{VarHeight, c.Height},
	} {
		if len(v.data) != n {
			return fmt.Errorf("checkpoint: %s has %d points but column has %d", v.name, len(v.data), n)
		}
		if err := writeSlab(s.f, v.name, begin, float32s(v.data), n); err != nil {
			return err
		}
	}
	return nil
}

// ClearColumn resets the depth-dependent quantities of cell (x, y) to
// FillValue over the full depth.
func (s *Store) ClearColumn(x, y int) error {
	if err := s.checkCell(x, y); err != nil {
		return err
	}
	fv := make([]float32, s.nz)
	for i := range fv {
		fv[i] = FillValue
	}
	for _, v := range []string{VarTemperature, VarVelocityZ, VarHeight} {
		if err := writeSlab(s.f, v, []int{x, y, 0}, fv, s.nz); err != nil {
			return err
		}
	}
	return nil
}

// WriteTaskRecord writes the bookkeeping of one task into its cell. The
// history is written up to the number of iterations and the rest of the
// cell's history is reset to FillValue.
func (s *Store) WriteTaskRecord(r *rh15d.TaskRecord) error {
	if err := s.checkCell(r.X, r.Y); err != nil {
		return err
	}
	n := r.Iterations
	if n > len(r.DeltaMaxHistory) {
		n = len(r.DeltaMaxHistory)
	}
	if n > s.niter {
		return fmt.Errorf("checkpoint: %d iterations exceed the history capacity %d", n, s.niter)
	}
	cell := []int{r.X, r.Y}
	for _, v := range []struct {
		name string
		val  int
	}{
		{VarTaskMap, r.Rank},
		{VarTaskNumber, r.Task},
		{VarIterations, r.Iterations},
		{VarConvergence, r.Convergence},
		{VarZCut, r.ZCut},
	} {
		if err := writeSlab(s.f, v.name, cell, []int32{int32(v.val)}, 1); err != nil {
			return err
		}
	}
	if err := writeSlab(s.f, VarDeltaMax, cell, []float32{float32(r.DeltaMax)}, 1); err != nil {
		return err
	}
	hist := make([]float32, s.niter)
	copy(hist, float32s(r.DeltaMaxHistory[:n]))
	for i := n; i < len(hist); i++ {
		hist[i] = FillValue
	}
	return writeSlab(s.f, VarHistory, []int{r.X, r.Y, 0}, hist, len(hist))
}

// WriteAllTaskRecords writes a batch of task records.
func (s *Store) WriteAllTaskRecords(recs []rh15d.TaskRecord) error {
	for i := range recs {
		if err := s.WriteTaskRecord(&recs[i]); err != nil {
			return err
		}
	}
	return nil
}
