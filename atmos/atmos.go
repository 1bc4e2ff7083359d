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

// Package atmos reads and writes model atmospheres: regular grids of
// columns holding temperature, vertical velocity and height as a function
// of depth, stored in netCDF format.
package atmos

import (
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/rh15d"
)

// Variable names in an atmosphere file.
const (
	VarTemperature = "temperature"
	VarVelocityZ   = "velocity_z"
	VarHeight      = "z"
)

// Atmosphere is an open atmosphere file. Reads go through ReadAt, so an
// Atmosphere may be shared by multiple goroutines.
type Atmosphere struct {
	NX, NY, NZ int

	// ID identifies the atmosphere model.
	ID string

	// X and Y are the horizontal coordinates [m].
	X, Y []float64

	r *os.File
	f *cdf.File
}

// Open opens the atmosphere file at path.
func Open(path string) (*Atmosphere, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("atmos: %v", err)
	}
	f, err := cdf.Open(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("atmos: opening %s: %v", path, err)
	}
	a := &Atmosphere{r: r, f: f}
	for _, v := range []string{VarTemperature, VarVelocityZ, VarHeight} {
		dims := f.Header.Dimensions(v)
		if len(dims) != 3 || dims[0] != "x" || dims[1] != "y" || dims[2] != "z" {
			r.Close()
			return nil, fmt.Errorf("atmos: %s: variable %s should have dimensions [x y z] but has %v", path, v, dims)
		}
	}
	l := f.Header.Lengths(VarTemperature)
	a.NX, a.NY, a.NZ = l[0], l[1], l[2]
	if id, ok := f.Header.GetAttribute("", "atmosID").(string); ok {
		a.ID = id
	} else if desc, ok := f.Header.GetAttribute("", "description").(string); ok {
		a.ID = desc
	}
	if a.X, err = a.read("x", nil, a.NX); err != nil {
		r.Close()
		return nil, err
	}
	if a.Y, err = a.read("y", nil, a.NY); err != nil {
		r.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the file.
func (a *Atmosphere) Close() error { return a.r.Close() }

// read reads n values of variable v starting at begin, converting
// them to float64.
func (a *Atmosphere) read(v string, begin []int, n int) ([]float64, error) {
	var end []int
	if begin != nil {
		end = make([]int, len(begin))
		copy(end, begin)
		end[len(end)-1] += n - 1
	}
	r := a.f.Reader(v, begin, end)
	if r == nil {
		return nil, fmt.Errorf("atmos: missing variable %s", v)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("atmos: reading %s: %v", v, err)
	}
	switch buf := buf.(type) {
	case []float64:
		return buf, nil
	case []float32:
		o := make([]float64, len(buf))
		for i, x := range buf {
			o[i] = float64(x)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("atmos: variable %s has unsupported type %T", v, buf)
	}
}

// Column returns the column at indices (x, y).
func (a *Atmosphere) Column(x, y int) (*rh15d.Column, error) {
	if x < 0 || x >= a.NX || y < 0 || y >= a.NY {
		return nil, fmt.Errorf("atmos: column (%d,%d) outside of [0,%d)x[0,%d)", x, y, a.NX, a.NY)
	}
	c := &rh15d.Column{XNum: x, YNum: y}
	var err error
	begin := []int{x, y, 0}
	if c.Temperature, err = a.read(VarTemperature, begin, a.NZ); err != nil {
		return nil, err
	}
	if c.VelocityZ, err = a.read(VarVelocityZ, begin, a.NZ); err != nil {
		return nil, err
	}
	if c.Height, err = a.read(VarHeight, begin, a.NZ); err != nil {
		return nil, err
	}
	return c, nil
}

// Cut removes the top depth points of c whose temperature exceeds tmax,
// keeping at least two points, and records the number of removed points
// in c.ZCut. A tmax less than or equal to zero disables the cut.
func Cut(c *rh15d.Column, tmax float64) {
	if tmax <= 0 {
		return
	}
	n := 0
	for n < len(c.Temperature)-2 && c.Temperature[n] > tmax {
		n++
	}
	c.ZCut += n
	c.Temperature = c.Temperature[n:]
	c.VelocityZ = c.VelocityZ[n:]
	c.Height = c.Height[n:]
}
