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

package lambda

import (
	"math"
	"testing"

	"github.com/spatialmodel/rh15d"
	"gonum.org/v1/gonum/floats"
)

type columns func(x, y int) *rh15d.Column

func (f columns) Column(x, y int) (*rh15d.Column, error) { return f(x, y), nil }

// isothermal returns a column at constant temperature t moving with
// velocity v.
func isothermal(t, v float64) columns {
	return func(x, y int) *rh15d.Column {
		const nz = 80
		c := &rh15d.Column{
			XNum:        x,
			YNum:        y,
			Height:      make([]float64, nz),
			Temperature: make([]float64, nz),
			VelocityZ:   make([]float64, nz),
		}
		floats.Span(c.Height, 2.5e6, 0)
		for k := range c.Temperature {
			c.Temperature[k] = t
			c.VelocityZ[k] = v
		}
		return c
	}
}

func testSolver(t *testing.T, atm ColumnReader) (*Solver, *rh15d.Column) {
	cfg := DefaultConfig()
	s, err := New(cfg, atm)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Load(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(c); err != nil {
		t.Fatal(err)
	}
	return s, c
}

func TestSolver_Iterate(t *testing.T) {
	s, c := testSolver(t, isothermal(6000, 0))
	res, err := s.Iterate(c, 1000, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("not converged after %d iterations: %g", res.Iterations, res.DeltaMax)
	}
	if len(res.DeltaMaxHistory) != res.Iterations {
		t.Errorf("%d history values for %d iterations", len(res.DeltaMaxHistory), res.Iterations)
	}
	if rh15d.Classify(res, 1000) != rh15d.TaskConverged {
		t.Errorf("classified as %v", rh15d.Classify(res, 1000))
	}
	n := c.NSpace()
	b := planck(s.cfg.LineCenter, 6000)
	// Scattering lowers the source function near the surface, while it
	// thermalizes at depth.
	if s.sl[0] >= 0.5*b {
		t.Errorf("surface source function %g should be well below B=%g", s.sl[0], b)
	}
	if math.Abs(s.sl[n-1]/b-1) > 0.05 {
		t.Errorf("deep source function %g should be close to B=%g", s.sl[n-1], b)
	}
	for k := 1; k < n; k++ {
		if s.sl[k] < s.sl[k-1]*(1-1e-2) {
			t.Errorf("source function decreases with depth at %d", k)
			break
		}
	}
}

func TestSolver_SolveForDirection(t *testing.T) {
	for _, test := range []struct {
		name string
		v    float64
	}{
		{name: "static", v: 0},
		{name: "redshift", v: 5e3},
	} {
		t.Run(test.name, func(t *testing.T) {
			s, c := testSolver(t, isothermal(6000, test.v))
			if _, err := s.Iterate(c, 1000, 1e-3); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 10; i++ {
				r, err := s.SolveSpectrum(c)
				if err != nil {
					t.Fatal(err)
				}
				if r <= 1e-3 {
					break
				}
			}
			center := len(s.Wavelengths()) / 2
			sp, err := s.SolveForDirection(c, 1, []int{0, center})
			if err != nil {
				t.Fatal(err)
			}
			if len(sp.Intensity) != len(s.Wavelengths()) {
				t.Fatalf("%d intensities", len(sp.Intensity))
			}
			min := floats.MinIdx(sp.Intensity)
			if sp.Intensity[min] >= 0.5*sp.Intensity[0] {
				t.Errorf("line core %g should be much darker than the wing %g", sp.Intensity[min], sp.Intensity[0])
			}
			switch {
			case test.v == 0 && min != center:
				t.Errorf("line minimum at %d, want %d", min, center)
			case test.v > 0 && min <= center:
				t.Errorf("line minimum at %d should be redshifted from %d", min, center)
			}
			if len(sp.Opacity) != 2 || len(sp.Opacity[1]) != c.NSpace() {
				t.Fatalf("selected opacity has wrong shape")
			}
			if sp.Opacity[1][0] <= sp.Opacity[0][0] {
				t.Error("opacity should be larger at line center than in the wing")
			}
		})
	}
}

func TestSolver_crash(t *testing.T) {
	for _, temp := range []float64{-1e4, 0} {
		s, c := testSolver(t, isothermal(temp, 0))
		res, err := s.Iterate(c, 10, 1e-3)
		if err != nil {
			t.Fatal(err)
		}
		if state := rh15d.Classify(res, 10); state != rh15d.TaskCrashed {
			t.Errorf("T=%g: state %v, delta %g", temp, state, res.DeltaMax)
		}
		if res.Iterations < 1 || len(res.DeltaMaxHistory) != res.Iterations {
			t.Errorf("T=%g: %d iterations with history %v", temp, res.Iterations, res.DeltaMaxHistory)
		}
	}
}

func TestSolver_unprepared(t *testing.T) {
	s, err := New(DefaultConfig(), isothermal(6000, 0))
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Load(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Iterate(c, 1, 1e-3); err == nil {
		t.Error("iterating before Prepare should fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epsilon = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero epsilon should be invalid")
	}
}
