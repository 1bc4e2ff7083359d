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
	"context"
	"fmt"
	"math"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/rh15d"
)

// RayConfig describes the emergent spectrum output file.
type RayConfig struct {
	Path string

	// NX and NY are the number of output cells and NZ the number of depth
	// points of the full atmosphere.
	NX, NY, NZ int

	Wavelength []float64
	Selected   []int
	Mu         float64

	Overwrite bool
}

func (c *RayConfig) header() *cdf.Header {
	dims := []string{"x", "y", "z", "wavelength"}
	lengths := []int{c.NX, c.NY, c.NZ, len(c.Wavelength)}
	if len(c.Selected) > 0 {
		dims = append(dims, "wavelength_selected")
		lengths = append(lengths, len(c.Selected))
	}
	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "mu", []float64{c.Mu})
	h.AddAttribute("", "rev_id", rh15d.Version)

	h.AddVariable("wavelength", []string{"wavelength"}, []float64{0})
	h.AddAttribute("wavelength", "units", "nm")
	h.AddVariable("intensity", []string{"x", "y", "wavelength"}, []float32{0})
	h.AddAttribute("intensity", "units", "J s-1 m-2 Hz-1 sr-1")
	h.AddAttribute("intensity", "_FillValue", []float32{FillValue})
	if len(c.Selected) > 0 {
		h.AddVariable("wavelength_selected", []string{"wavelength_selected"}, []float64{0})
		h.AddAttribute("wavelength_selected", "units", "nm")
		h.AddVariable("wavelength_indices", []string{"wavelength_selected"}, []int32{0})
		for _, v := range []struct{ name, units string }{
			{"chi", "m-1"},
			{"source_function", "J s-1 m-2 Hz-1 sr-1"},
		} {
			h.AddVariable(v.name, []string{"x", "y", "wavelength_selected", "z"}, []float32{0})
			h.AddAttribute(v.name, "units", v.units)
			h.AddAttribute(v.name, "_FillValue", []float32{FillValue})
		}
	}
	h.Define()
	return h
}

func (c *RayConfig) init(f *cdf.File) error {
	if err := writeSlab(f, "wavelength", []int{0}, c.Wavelength, len(c.Wavelength)); err != nil {
		return err
	}
	if len(c.Selected) == 0 {
		return nil
	}
	sel := make([]float64, len(c.Selected))
	idx := make([]int32, len(c.Selected))
	for i, s := range c.Selected {
		sel[i] = c.Wavelength[s]
		idx[i] = int32(s)
	}
	if err := writeSlab(f, "wavelength_selected", []int{0}, sel, len(sel)); err != nil {
		return err
	}
	return writeSlab(f, "wavelength_indices", []int{0}, idx, len(idx))
}

func (c *RayConfig) validate() error {
	if c.NX <= 0 || c.NY <= 0 || c.NZ <= 0 || len(c.Wavelength) == 0 {
		return fmt.Errorf("checkpoint: invalid ray file dimensions nx=%d, ny=%d, nz=%d, nwave=%d",
			c.NX, c.NY, c.NZ, len(c.Wavelength))
	}
	for _, s := range c.Selected {
		if s < 0 || s >= len(c.Wavelength) {
			return fmt.Errorf("checkpoint: selected wavelength index %d out of range", s)
		}
	}
	return nil
}

// RayFile is one worker's handle to the emergent spectrum output.
type RayFile struct {
	*shared
	nx, ny, nz, nwave, nsel int
}

func newRayFile(s *shared, c *RayConfig) *RayFile {
	return &RayFile{shared: s, nx: c.NX, ny: c.NY, nz: c.NZ, nwave: len(c.Wavelength), nsel: len(c.Selected)}
}

// CreateRay creates the emergent spectrum file. It must be called by
// every worker in comm.
func CreateRay(ctx context.Context, comm rh15d.Comm, c *RayConfig) (*RayFile, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	s, err := createShared(ctx, comm, c.Path, c.Overwrite, c.header(), c.init)
	if err != nil {
		return nil, err
	}
	return newRayFile(s, c), nil
}

// OpenRay opens an existing emergent spectrum file to resume a run. Its
// dimensions and direction must match c. It must be called by every
// worker in comm.
func OpenRay(ctx context.Context, comm rh15d.Comm, c *RayConfig) (*RayFile, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	validate := func(f *cdf.File) error {
		l := f.Header.Lengths("intensity")
		if len(l) != 3 {
			return fmt.Errorf("checkpoint: %s is not a ray output file", c.Path)
		}
		for i, d := range []struct {
			name string
			want int
		}{{"nx", c.NX}, {"ny", c.NY}, {"nwave", len(c.Wavelength)}} {
			if l[i] != d.want {
				return &DimensionError{Name: d.name, File: l[i], Want: d.want}
			}
		}
		nsel := 0
		if l := f.Header.Lengths("chi"); len(l) == 4 {
			nsel = l[2]
			if l[3] != c.NZ {
				return &DimensionError{Name: "nz", File: l[3], Want: c.NZ}
			}
		}
		if nsel != len(c.Selected) {
			return &DimensionError{Name: "nselected", File: nsel, Want: len(c.Selected)}
		}
		if mu, ok := f.Header.GetAttribute("", "mu").([]float64); !ok || len(mu) != 1 || math.Abs(mu[0]-c.Mu) > 1e-9 {
			return fmt.Errorf("checkpoint: %s was written for a different direction", c.Path)
		}
		return nil
	}
	s, err := openShared(ctx, comm, c.Path, validate)
	if err != nil {
		return nil, err
	}
	return newRayFile(s, c), nil
}

// Close waits for all workers to finish writing and releases the file.
func (r *RayFile) Close(ctx context.Context) error { return r.close(ctx) }

// WriteRay writes the emergent spectrum s of column c into cell (x, y).
func (r *RayFile) WriteRay(x, y int, c *rh15d.Column, s *rh15d.Spectrum) error {
	if x < 0 || x >= r.nx || y < 0 || y >= r.ny {
		return fmt.Errorf("checkpoint: cell (%d,%d) outside of [0,%d)x[0,%d)", x, y, r.nx, r.ny)
	}
	if len(s.Intensity) != r.nwave {
		return fmt.Errorf("checkpoint: spectrum has %d wavelengths but file has %d", len(s.Intensity), r.nwave)
	}
	if err := writeSlab(r.f, "intensity", []int{x, y, 0}, float32s(s.Intensity), r.nwave); err != nil {
		return err
	}
	if r.nsel == 0 {
		return nil
	}
	if len(s.Opacity) != r.nsel || len(s.SourceFunction) != r.nsel {
		return fmt.Errorf("checkpoint: spectrum has %d selected wavelengths but file has %d", len(s.Opacity), r.nsel)
	}
	n := c.NSpace()
	if c.ZCut+n > r.nz {
		return fmt.Errorf("checkpoint: column of %d points at depth %d does not fit nz=%d", n, c.ZCut, r.nz)
	}
	for i := 0; i < r.nsel; i++ {
		if len(s.Opacity[i]) != n || len(s.SourceFunction[i]) != n {
			return fmt.Errorf("checkpoint: selected wavelength %d has wrong number of depth points", i)
		}
		begin := []int{x, y, i, c.ZCut}
		if err := writeSlab(r.f, "chi", begin, float32s(s.Opacity[i]), n); err != nil {
			return err
		}
		if err := writeSlab(r.f, "source_function", begin, float32s(s.SourceFunction[i]), n); err != nil {
			return err
		}
	}
	return nil
}
