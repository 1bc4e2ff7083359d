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

// Package hash computes stable fingerprints of run settings.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// printer is used for values that gob cannot encode, such as NaN fields
// of interface type or unexported-only structs.
var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Fingerprint returns a hexadecimal key that changes whenever any of the
// given objects changes. The order of the objects matters.
func Fingerprint(objects ...interface{}) string {
	h := fnv.New128a()
	for _, o := range objects {
		write(h, o)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func write(h hash.Hash, object interface{}) {
	// Each object is encoded separately so that a gob failure only
	// affects that object.
	s := fnv.New128a()
	if err := gob.NewEncoder(s).Encode(object); err != nil {
		s.Reset()
		printer.Fprintf(s, "%#v", object)
	}
	h.Write(s.Sum(nil))
}
