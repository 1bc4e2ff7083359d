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

package atmos

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/rh15d"
)

// Write creates an atmosphere file at path with columns at horizontal
// coordinates x and y, each with nz depth points. column is called for
// every pair of indices and must return columns of length nz.
func Write(path, id string, x, y []float64, nz int, column func(ix, iy int) *rh15d.Column) error {
	h := cdf.NewHeader([]string{"x", "y", "z"}, []int{len(x), len(y), nz})
	h.AddAttribute("", "atmosID", id)
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddAttribute("x", "units", "m")
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddAttribute("y", "units", "m")
	for _, v := range []struct{ name, units string }{
		{VarTemperature, "K"},
		{VarVelocityZ, "m s-1"},
		{VarHeight, "m"},
	} {
		h.AddVariable(v.name, []string{"x", "y", "z"}, []float32{0})
		h.AddAttribute(v.name, "units", v.units)
	}
	h.Define()

	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("atmos: %v", err)
	}
	defer w.Close()
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("atmos: creating %s: %v", path, err)
	}
	if err := write(f, "x", nil, x); err != nil {
		return err
	}
	if err := write(f, "y", nil, y); err != nil {
		return err
	}
	for ix := range x {
		for iy := range y {
			c := column(ix, iy)
			for _, v := range []struct {
				name string
				data []float64
			}{
				{VarTemperature, c.Temperature},
				{VarVelocityZ, c.VelocityZ},
				{VarHeight, c.Height},
			} {
				if len(v.data) != nz {
					return fmt.Errorf("atmos: column (%d,%d) %s has %d points but nz=%d", ix, iy, v.name, len(v.data), nz)
				}
				d := make([]float32, nz)
				for i, val := range v.data {
					d[i] = float32(val)
				}
				if err := write(f, v.name, []int{ix, iy, 0}, d); err != nil {
					return err
				}
			}
		}
	}
	return w.Close()
}

func write(f *cdf.File, v string, begin []int, data interface{}) error {
	var n int
	switch d := data.(type) {
	case []float64:
		n = len(d)
	case []float32:
		n = len(d)
	}
	var end []int
	if begin != nil {
		end = make([]int, len(begin))
		copy(end, begin)
		end[len(end)-1] += n - 1
	}
	if _, err := f.Writer(v, begin, end).Write(data); err != nil && err != io.EOF {
		return fmt.Errorf("atmos: writing %s: %v", v, err)
	}
	return nil
}

// Synthetic returns a column of a plane-parallel model atmosphere with a
// photosphere, a temperature minimum and a chromospheric rise, with
// temperature and velocity perturbed as a function of horizontal
// position. Height decreases with depth index from top to 0.
func Synthetic(ix, iy, nx, ny, nz int, top float64) *rh15d.Column {
	c := &rh15d.Column{
		XNum:        ix,
		YNum:        iy,
		Height:      make([]float64, nz),
		Temperature: make([]float64, nz),
		VelocityZ:   make([]float64, nz),
	}
	px := 2 * math.Pi * float64(ix) / float64(nx)
	py := 2 * math.Pi * float64(iy) / float64(ny)
	pert := 1 + 0.05*math.Sin(px)*math.Cos(py)
	for k := 0; k < nz; k++ {
		h := top * float64(nz-1-k) / float64(nz-1)
		c.Height[k] = h
		t := 4200 + 2300*math.Exp(-h/1.5e5) + 4000*math.Pow(h/top, 4)
		c.Temperature[k] = t * pert
		c.VelocityZ[k] = 2e3 * math.Sin(px+py) * h / top
	}
	return c
}
