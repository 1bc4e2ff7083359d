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

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RayInput specifies the direction of the emergent spectrum and the
// wavelengths for which depth-dependent quantities are saved.
type RayInput struct {
	// Mu is the cosine of the viewing angle, in (0, 1].
	Mu float64

	// Wavelengths holds indices into the solver's wavelength grid.
	Wavelengths []int
}

// ParseRayInput reads a ray input file. The file holds the direction
// cosine, followed by the number of selected wavelengths and then that
// many wavelength indices, all separated by white space. Text following
// a '#' is ignored.
func ParseRayInput(r io.Reader) (*RayInput, error) {
	var tokens []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("rh15d: reading ray input: %v", err)
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("rh15d: ray input: expected mu and number of wavelengths, found %d values", len(tokens))
	}

	mu, err := strconv.ParseFloat(tokens[0], 64)
	if err != nil {
		return nil, fmt.Errorf("rh15d: ray input: invalid mu: %v", err)
	}
	if !(mu > 0 && mu <= 1) {
		return nil, fmt.Errorf("rh15d: ray input: mu=%g but should be in (0, 1]", mu)
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("rh15d: ray input: invalid number of wavelengths: %v", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("rh15d: ray input: number of wavelengths=%d but should be >=0", n)
	}
	ri := &RayInput{Mu: mu, Wavelengths: make([]int, 0, n)}
	if n == 0 {
		return ri, nil
	}
	idx := tokens[2:]
	if len(idx) != n {
		return nil, fmt.Errorf("rh15d: ray input: expected %d wavelength indices, found %d", n, len(idx))
	}
	for _, tok := range idx {
		i, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("rh15d: ray input: invalid wavelength index: %v", err)
		}
		ri.Wavelengths = append(ri.Wavelengths, i)
	}
	return ri, nil
}

// Validate checks that the selected wavelength indices are within a
// wavelength grid with nwave points.
func (ri *RayInput) Validate(nwave int) error {
	for _, i := range ri.Wavelengths {
		if i < 0 || i >= nwave {
			return fmt.Errorf("rh15d: ray input: wavelength index %d is outside of the wavelength grid [0,%d)", i, nwave)
		}
	}
	return nil
}
