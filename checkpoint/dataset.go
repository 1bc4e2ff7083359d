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

package checkpoint

import (
	"errors"
	"fmt"
	"os"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/rh15d"
)

// ErrUnwritten is returned when reading a cell that no run has written.
var ErrUnwritten = errors.New("checkpoint: cell has not been written")

// Dataset provides read-only access to an existing checkpoint.
type Dataset struct {
	r *os.File
	f *cdf.File

	NX, NY, NZ, MaxIter int
	AtmosID             string
}

// OpenDataset opens the checkpoint at path for reading.
func OpenDataset(path string) (*Dataset, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %v", err)
	}
	f, err := cdf.Open(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("checkpoint: opening %s: %v", path, err)
	}
	d := &Dataset{r: r, f: f, AtmosID: stringAttr(f, "atmosID")}
	var ok [3]bool
	d.NX, ok[0] = intAttr(f, "nx")
	d.NY, ok[1] = intAttr(f, "ny")
	d.NZ, ok[2] = intAttr(f, "nz")
	l := f.Header.Lengths(VarHistory)
	if !ok[0] || !ok[1] || !ok[2] || len(l) != 3 {
		r.Close()
		return nil, fmt.Errorf("checkpoint: %s is not a checkpoint file", path)
	}
	d.MaxIter = l[2]
	return d, nil
}

// Close closes the underlying file.
func (d *Dataset) Close() error { return d.r.Close() }

// Attribute returns the global attribute name, or nil if it does not
// exist.
func (d *Dataset) Attribute(name string) interface{} {
	return d.f.Header.GetAttribute("", name)
}

// Convergence returns the convergence flag of every cell, indexed
// [x][y]. Unwritten cells hold IntFillValue.
func (d *Dataset) Convergence() ([][]int32, error) {
	buf, err := readSlab(d.f, VarConvergence, []int{0, 0}, d.NX*d.NY)
	if err != nil {
		return nil, err
	}
	flat := buf.([]int32)
	c := make([][]int32, d.NX)
	for x := range c {
		c[x] = flat[x*d.NY : (x+1)*d.NY]
	}
	return c, nil
}

func (d *Dataset) int32At(v string, x, y int) (int32, error) {
	buf, err := readSlab(d.f, v, []int{x, y}, 1)
	if err != nil {
		return 0, err
	}
	return buf.([]int32)[0], nil
}

// TaskRecord returns the record written for cell (x, y), or ErrUnwritten.
func (d *Dataset) TaskRecord(x, y int) (*rh15d.TaskRecord, error) {
	if x < 0 || x >= d.NX || y < 0 || y >= d.NY {
		return nil, fmt.Errorf("checkpoint: cell (%d,%d) outside of [0,%d)x[0,%d)", x, y, d.NX, d.NY)
	}
	r := &rh15d.TaskRecord{X: x, Y: y}
	for _, v := range []struct {
		name string
		dst  *int
	}{
		{VarTaskMap, &r.Rank},
		{VarTaskNumber, &r.Task},
		{VarIterations, &r.Iterations},
		{VarConvergence, &r.Convergence},
		{VarZCut, &r.ZCut},
	} {
		val, err := d.int32At(v.name, x, y)
		if err != nil {
			return nil, err
		}
		if val == IntFillValue {
			return nil, ErrUnwritten
		}
		*v.dst = int(val)
	}
	switch r.Convergence {
	case rh15d.Converged:
		r.State = rh15d.TaskConverged
	case rh15d.Crashed:
		r.State = rh15d.TaskCrashed
	default:
		r.State = rh15d.TaskNotConverged
	}
	dm, err := readSlab(d.f, VarDeltaMax, []int{x, y}, 1)
	if err != nil {
		return nil, err
	}
	r.DeltaMax = float64(dm.([]float32)[0])
	n := r.Iterations
	if n > d.MaxIter {
		n = d.MaxIter
	}
	if n > 0 {
		h, err := readSlab(d.f, VarHistory, []int{x, y, 0}, n)
		if err != nil {
			return nil, err
		}
		r.DeltaMaxHistory = make([]float64, n)
		for i, v := range h.([]float32) {
			r.DeltaMaxHistory[i] = float64(v)
		}
	}
	return r, nil
}

// Column returns the full-depth temperature, vertical velocity and
// height of cell (x, y). Unwritten depth points hold FillValue.
func (d *Dataset) Column(x, y int) (temperature, vz, height []float64, err error) {
	out := make([][]float64, 3)
	for i, v := range []string{VarTemperature, VarVelocityZ, VarHeight} {
		buf, err := readSlab(d.f, v, []int{x, y, 0}, d.NZ)
		if err != nil {
			return nil, nil, nil, err
		}
		out[i] = make([]float64, d.NZ)
		for k, val := range buf.([]float32) {
			out[i][k] = float64(val)
		}
	}
	return out[0], out[1], out[2], nil
}

// ReadConvergence returns the convergence flags of the checkpoint at
// path, indexed [x][y].
func ReadConvergence(path string) ([][]int32, error) {
	d, err := OpenDataset(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Convergence()
}
