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

// Package lambda provides a column solver for a two-level atom with
// complete redistribution. The line source function is found by
// accelerated lambda iteration with a diagonal approximate operator,
// using short characteristics with linear interpolation of the source
// function for the formal solution.
package lambda

import (
	"fmt"
	"math"

	"github.com/spatialmodel/rh15d"
	"github.com/spatialmodel/rh15d/atmos"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/integrate/quad"
)

// Physical constants in SI units.
const (
	hPlanck = 6.62607015e-34 // [J s]
	cLight  = 2.99792458e8   // [m s-1]
	kBoltz  = 1.380649e-23   // [J K-1]
	amu     = 1.66053907e-27 // [kg]
)

// Config holds the atomic and numerical parameters of the solver.
type Config struct {
	// LineCenter is the rest wavelength of the transition [nm].
	LineCenter float64

	// NWavelength points are spread evenly over LineCenter ± HalfWidth [nm].
	NWavelength int
	HalfWidth   float64

	// Epsilon is the collisional destruction probability.
	Epsilon float64

	// LineRatio is the ratio of line-center to continuum opacity.
	LineRatio float64

	// ContinuumOpacity [m-1] at zero height falls off with height
	// over OpacityScaleHeight [m].
	ContinuumOpacity   float64
	OpacityScaleHeight float64

	// AtomicMass [amu] and Microturbulence [m s-1] set the Doppler width.
	AtomicMass      float64
	Microturbulence float64

	// NMu is the number of Gauss-Legendre angles per hemisphere.
	NMu int

	// MaxTemperature [K] removes the top of each column that is hotter.
	// Zero keeps whole columns.
	MaxTemperature float64
}

// DefaultConfig returns parameters for a strong chromospheric line.
func DefaultConfig() *Config {
	return &Config{
		LineCenter:         656.28,
		NWavelength:        101,
		HalfWidth:          0.15,
		Epsilon:            1e-2,
		LineRatio:          1e3,
		ContinuumOpacity:   1e-4,
		OpacityScaleHeight: 1.5e5,
		AtomicMass:         1.008,
		Microturbulence:    2e3,
		NMu:                3,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case !(c.LineCenter > 0):
		return fmt.Errorf("lambda: LineCenter=%g but should be >0", c.LineCenter)
	case c.NWavelength < 2:
		return fmt.Errorf("lambda: NWavelength=%d but should be >=2", c.NWavelength)
	case !(c.HalfWidth > 0) || c.HalfWidth >= c.LineCenter:
		return fmt.Errorf("lambda: HalfWidth=%g should be >0 and less than LineCenter", c.HalfWidth)
	case !(c.Epsilon > 0) || c.Epsilon > 1:
		return fmt.Errorf("lambda: Epsilon=%g but should be in (0, 1]", c.Epsilon)
	case c.LineRatio < 0:
		return fmt.Errorf("lambda: LineRatio=%g but should be >=0", c.LineRatio)
	case !(c.ContinuumOpacity > 0) || !(c.OpacityScaleHeight > 0):
		return fmt.Errorf("lambda: ContinuumOpacity and OpacityScaleHeight should be >0")
	case !(c.AtomicMass > 0) || c.Microturbulence < 0:
		return fmt.Errorf("lambda: AtomicMass should be >0 and Microturbulence >=0")
	case c.NMu < 1:
		return fmt.Errorf("lambda: NMu=%d but should be >=1", c.NMu)
	}
	return nil
}

// ColumnReader provides atmospheric columns.
type ColumnReader interface {
	Column(x, y int) (*rh15d.Column, error)
}

// Solver solves one column at a time. It is not safe for concurrent use.
type Solver struct {
	cfg  *Config
	atm  ColumnReader
	wave []float64 // [nm]

	// Angle quadrature, set by Prepare.
	mu, wmu []float64

	// State of the current column.
	col  *rh15d.Column
	b    []float64   // Planck function
	chic []float64   // continuum opacity [m-1]
	phi  [][]float64 // line profile normalized to 1 at line center [wave][depth]
	sl   []float64   // line source function
}

// New returns a solver reading columns from atm.
func New(cfg *Config, atm ColumnReader) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{cfg: cfg, atm: atm, wave: make([]float64, cfg.NWavelength)}
	floats.Span(s.wave, cfg.LineCenter-cfg.HalfWidth, cfg.LineCenter+cfg.HalfWidth)
	return s, nil
}

// Wavelengths returns the wavelength grid [nm].
func (s *Solver) Wavelengths() []float64 { return s.wave }

// Load reads column (xnum, ynum) and removes its top above the
// temperature ceiling.
func (s *Solver) Load(xnum, ynum int) (*rh15d.Column, error) {
	c, err := s.atm.Column(xnum, ynum)
	if err != nil {
		return nil, err
	}
	atmos.Cut(c, s.cfg.MaxTemperature)
	return c, nil
}

// Prepare sets up the angle quadrature. It must be called before the
// first column is solved.
func (s *Solver) Prepare(c *rh15d.Column) error {
	if c.NSpace() < 2 {
		return fmt.Errorf("lambda: column has %d depth points but needs at least 2", c.NSpace())
	}
	s.mu = make([]float64, s.cfg.NMu)
	s.wmu = make([]float64, s.cfg.NMu)
	quad.Legendre{}.FixedLocations(s.mu, s.wmu, 0, 1)
	return nil
}

// planck returns the Planck function at wavelength λ [nm] and
// temperature t [K] in J s-1 m-2 Hz-1 sr-1.
func planck(λ, t float64) float64 {
	l := λ * 1e-9
	return 2 * hPlanck * cLight / (l * l * l) / math.Expm1(hPlanck*cLight/(l*kBoltz*t))
}

// setup computes the depth-dependent quantities of column c.
func (s *Solver) setup(c *rh15d.Column) error {
	if s.mu == nil {
		return fmt.Errorf("lambda: solver has not been prepared")
	}
	if s.col == c {
		return nil
	}
	cfg := s.cfg
	n := c.NSpace()
	if len(c.Height) != n || len(c.VelocityZ) != n {
		return fmt.Errorf("lambda: inconsistent column lengths")
	}
	s.b = make([]float64, n)
	s.chic = make([]float64, n)
	s.sl = make([]float64, n)
	s.phi = make([][]float64, len(s.wave))
	for i := range s.phi {
		s.phi[i] = make([]float64, n)
	}
	mass := cfg.AtomicMass * amu
	for k := 0; k < n; k++ {
		t := c.Temperature[k]
		s.b[k] = planck(cfg.LineCenter, t)
		s.sl[k] = s.b[k]
		s.chic[k] = cfg.ContinuumOpacity * math.Exp(-c.Height[k]/cfg.OpacityScaleHeight)
		Δλ := cfg.LineCenter / cLight * math.Sqrt(2*kBoltz*t/mass+cfg.Microturbulence*cfg.Microturbulence)
		shift := cfg.LineCenter * c.VelocityZ[k] / cLight
		for i, λ := range s.wave {
			x := (λ - cfg.LineCenter - shift) / Δλ
			s.phi[i][k] = math.Exp(-x * x)
		}
	}
	s.col = c
	return nil
}

// sourceFunction returns the total source function at wavelength index i.
func (s *Solver) sourceFunction(i int, S []float64) {
	r := s.cfg.LineRatio
	for k := range S {
		p := r * s.phi[i][k]
		S[k] = (p*s.sl[k] + s.b[k]) / (p + 1)
	}
}

// opacity returns the total opacity at wavelength index i.
func (s *Solver) opacity(i int, chi []float64) {
	for k := range chi {
		chi[k] = s.chic[k] * (1 + s.cfg.LineRatio*s.phi[i][k])
	}
}

// opticalDepth returns the optical depth increments between adjacent
// depth points for opacity chi.
func opticalDepth(height, chi, dτ []float64) error {
	for k := 1; k < len(chi); k++ {
		dτ[k] = 0.5 * (chi[k-1] + chi[k]) * (height[k-1] - height[k])
		if !(dτ[k] > 0) {
			return fmt.Errorf("lambda: non-positive optical depth increment %g at depth %d", dτ[k], k)
		}
	}
	return nil
}

// weights returns the exponential and the linear short characteristic
// weights of the upwind and local points for optical path dt.
func weights(dt float64) (e, wu, wp float64) {
	var w0, w1 float64
	if dt < 1e-4 {
		w0 = dt - dt*dt/2
		w1 = dt/2 - dt*dt/6
		e = 1 - w0
	} else {
		e = math.Exp(-dt)
		w0 = 1 - e
		w1 = (dt - w0) / dt
	}
	return e, w0 - w1, w1
}

// formal solves the transfer equation along direction mu for source
// function S and optical depth increments dτ, adding the mean intensity
// weighted by w to J and the diagonal of the lambda operator to diag.
// It returns the emergent intensity.
func formal(mu, w float64, S, dτ, J, diag []float64) float64 {
	n := len(S)
	// Incoming from the top.
	var I float64
	for k := 1; k < n; k++ {
		e, wu, wp := weights(dτ[k] / mu)
		I = I*e + wu*S[k-1] + wp*S[k]
		J[k] += 0.5 * w * I
		diag[k] += 0.5 * w * wp
	}
	// Outgoing, starting from a thermalized lower boundary.
	I = S[n-1]
	J[n-1] += 0.5 * w * I
	for k := n - 2; k >= 0; k-- {
		e, wu, wp := weights(dτ[k+1] / mu)
		I = I*e + wu*S[k+1] + wp*S[k]
		J[k] += 0.5 * w * I
		diag[k] += 0.5 * w * wp
	}
	return I
}

// meanField returns the profile-averaged mean intensity and the diagonal
// of the approximate operator acting on the line source function.
func (s *Solver) meanField(c *rh15d.Column) (jbar, diag []float64, err error) {
	n := c.NSpace()
	nw := len(s.wave)
	S := make([]float64, n)
	chi := make([]float64, n)
	dτ := make([]float64, n)
	J := make([]float64, n)
	d := make([]float64, n)
	fj := make([][]float64, n)
	fd := make([][]float64, n)
	for k := range fj {
		fj[k] = make([]float64, nw)
		fd[k] = make([]float64, nw)
	}
	for i := range s.wave {
		s.opacity(i, chi)
		if err := opticalDepth(c.Height, chi, dτ); err != nil {
			return nil, nil, err
		}
		s.sourceFunction(i, S)
		for k := range J {
			J[k], d[k] = 0, 0
		}
		for m, mu := range s.mu {
			formal(mu, s.wmu[m], S, dτ, J, d)
		}
		r := s.cfg.LineRatio
		for k := 0; k < n; k++ {
			p := r * s.phi[i][k]
			fj[k][i] = s.phi[i][k] * J[k]
			fd[k][i] = s.phi[i][k] * d[k] * p / (p + 1)
		}
	}
	jbar = make([]float64, n)
	diag = make([]float64, n)
	phi := make([]float64, nw)
	for k := 0; k < n; k++ {
		for i := range phi {
			phi[i] = s.phi[i][k]
		}
		pn := integrate.Trapezoidal(s.wave, phi)
		jbar[k] = integrate.Trapezoidal(s.wave, fj[k]) / pn
		diag[k] = integrate.Trapezoidal(s.wave, fd[k]) / pn
	}
	return jbar, diag, nil
}

// update replaces the line source function and returns the maximum
// relative change. With accelerate set, the update is preconditioned
// with the diagonal operator.
func (s *Solver) update(c *rh15d.Column, accelerate bool) (float64, error) {
	jbar, diag, err := s.meanField(c)
	if err != nil {
		return 0, err
	}
	eps := s.cfg.Epsilon
	var dmax float64
	for k, old := range s.sl {
		target := (1-eps)*jbar[k] + eps*s.b[k]
		next := target
		if accelerate {
			next = old + (target-old)/(1-(1-eps)*diag[k])
		}
		s.sl[k] = next
		// NaN propagates to the result.
		if d := math.Abs(next-old) / math.Abs(next); d > dmax || math.IsNaN(d) {
			dmax = d
		}
	}
	return dmax, nil
}

// Iterate runs accelerated lambda iterations on the line source function
// starting from local thermodynamic equilibrium.
func (s *Solver) Iterate(c *rh15d.Column, maxIter int, limit float64) (*rh15d.IterationResult, error) {
	if err := s.setup(c); err != nil {
		return nil, err
	}
	copy(s.sl, s.b)
	res := &rh15d.IterationResult{}
	for res.Iterations < maxIter {
		d, err := s.update(c, true)
		if err != nil {
			// A column the formal solver cannot integrate is recorded as a
			// failed iteration so that it classifies as crashed.
			d = math.NaN()
		}
		res.Iterations++
		res.DeltaMax = d
		res.DeltaMaxHistory = append(res.DeltaMaxHistory, d)
		if math.IsNaN(d) || d < limit {
			break
		}
	}
	res.Converged = res.Iterations > 0 && res.DeltaMax < limit
	return res, nil
}

// SolveSpectrum performs an ordinary lambda iteration over the full
// wavelength grid and returns the maximum relative change of the line
// source function.
func (s *Solver) SolveSpectrum(c *rh15d.Column) (float64, error) {
	if err := s.setup(c); err != nil {
		return 0, err
	}
	return s.update(c, false)
}

// SolveForDirection returns the emergent spectrum of column c in
// direction mu.
func (s *Solver) SolveForDirection(c *rh15d.Column, mu float64, selected []int) (*rh15d.Spectrum, error) {
	if err := s.setup(c); err != nil {
		return nil, err
	}
	if !(mu > 0 && mu <= 1) {
		return nil, fmt.Errorf("lambda: mu=%g but should be in (0, 1]", mu)
	}
	n := c.NSpace()
	sp := &rh15d.Spectrum{
		Mu:             mu,
		Wavelength:     s.wave,
		Intensity:      make([]float64, len(s.wave)),
		Selected:       selected,
		Opacity:        make([][]float64, len(selected)),
		SourceFunction: make([][]float64, len(selected)),
	}
	sel := make(map[int]int, len(selected))
	for j, i := range selected {
		if i < 0 || i >= len(s.wave) {
			return nil, fmt.Errorf("lambda: wavelength index %d out of range", i)
		}
		sel[i] = j
	}
	J := make([]float64, n)
	d := make([]float64, n)
	dτ := make([]float64, n)
	for i := range s.wave {
		S := make([]float64, n)
		chi := make([]float64, n)
		s.opacity(i, chi)
		if err := opticalDepth(c.Height, chi, dτ); err != nil {
			return nil, err
		}
		s.sourceFunction(i, S)
		sp.Intensity[i] = formal(mu, 1, S, dτ, J, d)
		if j, ok := sel[i]; ok {
			sp.Opacity[j] = chi
			sp.SourceFunction[j] = S
		}
	}
	return sp, nil
}
