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
	"reflect"
	"strings"
	"testing"
)

func TestParseRayInput(t *testing.T) {
	ri, err := ParseRayInput(strings.NewReader("# direction\n0.5\n3 10 20 30\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := &RayInput{Mu: 0.5, Wavelengths: []int{10, 20, 30}}
	if !reflect.DeepEqual(ri, want) {
		t.Errorf("have %+v, want %+v", ri, want)
	}
	if err := ri.Validate(31); err != nil {
		t.Error(err)
	}
	if err := ri.Validate(30); err == nil {
		t.Error("index 30 should be outside of a 30 point grid")
	}
}

func TestParseRayInput_noWavelengths(t *testing.T) {
	ri, err := ParseRayInput(strings.NewReader("1.0 0"))
	if err != nil {
		t.Fatal(err)
	}
	if ri.Mu != 1 || len(ri.Wavelengths) != 0 {
		t.Errorf("have %+v", ri)
	}
}

func TestParseRayInput_errors(t *testing.T) {
	for name, input := range map[string]string{
		"count mismatch": "0.5\n3 10 20\n",
		"too many":       "0.5\n1 10 20\n",
		"mu zero":        "0.0\n0\n",
		"mu too large":   "1.5\n0\n",
		"bad index":      "0.5\n1 x\n",
		"negative count": "0.5\n-1\n",
		"empty":          "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRayInput(strings.NewReader(input)); err == nil {
				t.Errorf("%q should not parse", input)
			}
		})
	}
}
